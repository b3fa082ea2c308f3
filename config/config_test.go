package config

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		assert.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		p := path.Join(t.TempDir(), "kcore.toml")
		body := `
[palloc]
units = 8

[bcache]
buckets = 7
`
		assert.NoError(t, os.WriteFile(p, []byte(body), 0o644))

		cfg, err := Load(p)
		assert.NoError(t, err)
		assert.Equal(t, 8, cfg.Palloc.Units)
		assert.Equal(t, 7, cfg.Bcache.Buckets)
		// untouched sections keep their defaults
		assert.Equal(t, Default().Bcache.Buffers, cfg.Bcache.Buffers)
		assert.Equal(t, Default().Storage.Dir, cfg.Storage.Dir)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		p := path.Join(t.TempDir(), "kcore.toml")
		body := `
[palloc]
units = 0
`
		assert.NoError(t, os.WriteFile(p, []byte(body), 0o644))

		_, err := Load(p)
		assert.ErrorContains(t, err, "palloc.units")
	})

	t.Run("rejects unparsable files", func(t *testing.T) {
		p := path.Join(t.TempDir(), "kcore.toml")
		assert.NoError(t, os.WriteFile(p, []byte("[palloc\nunits="), 0o644))

		_, err := Load(p)
		assert.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(path.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}
