package bcache

import (
	"container/list"

	"github.com/mwangala/kcore/ksync"
)

// Buffer is an in-memory copy of one device block plus the metadata
// the cache needs to track it. Its identity (dev, blockno) and bucket
// membership are protected by the owning bucket's mutex; Data and the
// valid flag are protected by the content lock.
type Buffer struct {
	dev     uint32
	blockno uint32
	valid   bool
	refcnt  int

	bucket int           // index of the bucket whose list holds this buffer
	elem   *list.Element // position in that bucket's recency list

	lock *ksync.SleepLock
	Data []byte
}

func (b *Buffer) Dev() uint32 {
	return b.dev
}

func (b *Buffer) Blockno() uint32 {
	return b.blockno
}

// Valid reports whether the block's content has been loaded. Callers
// must hold the content lock.
func (b *Buffer) Valid() bool {
	return b.valid
}
