package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileDevice(t *testing.T) {
	t.Run("reads back what was written", func(t *testing.T) {
		d, err := OpenFileDevice(t.TempDir(), BLOCK_SIZE)
		assert.NoError(t, err)
		defer d.Close()

		data := make([]byte, BLOCK_SIZE)
		copy(data, []byte("block three"))
		assert.NoError(t, d.WriteBlock(0, 3, data))

		got := make([]byte, BLOCK_SIZE)
		assert.NoError(t, d.ReadBlock(0, 3, got))
		assert.Equal(t, data, got)
	})

	t.Run("unwritten blocks read as zeroes", func(t *testing.T) {
		d, err := OpenFileDevice(t.TempDir(), BLOCK_SIZE)
		assert.NoError(t, err)
		defer d.Close()

		got := make([]byte, BLOCK_SIZE)
		assert.NoError(t, d.ReadBlock(0, 9, got))
		assert.Equal(t, make([]byte, BLOCK_SIZE), got)
	})

	t.Run("devices are isolated", func(t *testing.T) {
		d, err := OpenFileDevice(t.TempDir(), BLOCK_SIZE)
		assert.NoError(t, err)
		defer d.Close()

		data := make([]byte, BLOCK_SIZE)
		copy(data, []byte("only on dev 1"))
		assert.NoError(t, d.WriteBlock(1, 0, data))

		got := make([]byte, BLOCK_SIZE)
		assert.NoError(t, d.ReadBlock(2, 0, got))
		assert.Equal(t, make([]byte, BLOCK_SIZE), got)
	})

	t.Run("rejects a short transfer buffer", func(t *testing.T) {
		d, err := OpenFileDevice(t.TempDir(), BLOCK_SIZE)
		assert.NoError(t, err)
		defer d.Close()

		assert.Error(t, d.ReadBlock(0, 0, make([]byte, 16)))
		assert.Error(t, d.WriteBlock(0, 0, make([]byte, 16)))
	})

	t.Run("checksum tracks block content", func(t *testing.T) {
		d, err := OpenFileDevice(t.TempDir(), BLOCK_SIZE)
		assert.NoError(t, err)
		defer d.Close()

		before, err := d.Checksum(0, 5)
		assert.NoError(t, err)

		data := make([]byte, BLOCK_SIZE)
		copy(data, []byte("changed"))
		assert.NoError(t, d.WriteBlock(0, 5, data))

		after, err := d.Checksum(0, 5)
		assert.NoError(t, err)
		assert.NotEqual(t, before, after)

		again, err := d.Checksum(0, 5)
		assert.NoError(t, err)
		assert.Equal(t, after, again)
	})

	t.Run("metadata survives reopen and pins geometry", func(t *testing.T) {
		dir := t.TempDir()

		d, err := OpenFileDevice(dir, BLOCK_SIZE)
		assert.NoError(t, err)
		data := make([]byte, BLOCK_SIZE)
		assert.NoError(t, d.WriteBlock(0, 0, data))
		assert.NoError(t, d.Close())

		d, err = OpenFileDevice(dir, BLOCK_SIZE)
		assert.NoError(t, err)
		got := make([]byte, BLOCK_SIZE)
		assert.NoError(t, d.ReadBlock(0, 0, got))
		assert.NoError(t, d.Close())

		// a mismatched block size must be refused
		d, err = OpenFileDevice(dir, 2*BLOCK_SIZE)
		assert.NoError(t, err)
		err = d.ReadBlock(0, 0, make([]byte, 2*BLOCK_SIZE))
		assert.ErrorContains(t, err, "block size")
		d.Close()
	})
}
