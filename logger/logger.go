package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger used by the kcore binaries. Library
// packages stay silent on their hot paths and report through return
// values and panics instead.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// Init applies the configured level, falling back to info on an
// unknown value.
func Init(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		Log.WithField("level", level).Warn("unknown log level, using info")
	}
	Log.SetLevel(lvl)
}
