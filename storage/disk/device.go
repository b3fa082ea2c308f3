package disk

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

const BLOCK_SIZE = 1024

const deviceMagic = "kcore-dev"

// header identifies a device file and pins its geometry. It is
// msgpack-encoded into a sidecar .meta file and validated on reopen.
type header struct {
	Magic     string
	Version   int
	BlockSize int
}

// FileDevice stores every device's blocks in a sparse file under one
// directory, block n at byte offset n * BlockSize. It implements the
// block cache's BlockDevice contract.
type FileDevice struct {
	mu        sync.Mutex
	dir       string
	blockSize int
	files     map[uint32]*os.File
}

func OpenFileDevice(dir string, blockSize int) (*FileDevice, error) {
	if blockSize <= 0 {
		return nil, errors.Errorf("invalid block size %d", blockSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating device dir")
	}

	return &FileDevice{
		dir:       dir,
		blockSize: blockSize,
		files:     map[uint32]*os.File{},
	}, nil
}

// ReadBlock copies one block into p. Blocks that were never written
// read as zeroes.
func (d *FileDevice) ReadBlock(dev, blockno uint32, p []byte) error {
	if len(p) != d.blockSize {
		return errors.Errorf("short transfer buffer: %d bytes", len(p))
	}

	f, err := d.file(dev)
	if err != nil {
		return err
	}

	n, err := f.ReadAt(p, int64(blockno)*int64(d.blockSize))
	if err == io.EOF || (err == nil && n == len(p)) {
		// zero the tail when the file is shorter than the block
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return nil
	}
	return errors.Wrapf(err, "reading dev %d block %d", dev, blockno)
}

// WriteBlock writes one block synchronously.
func (d *FileDevice) WriteBlock(dev, blockno uint32, p []byte) error {
	if len(p) != d.blockSize {
		return errors.Errorf("short transfer buffer: %d bytes", len(p))
	}

	f, err := d.file(dev)
	if err != nil {
		return err
	}

	if _, err := f.WriteAt(p, int64(blockno)*int64(d.blockSize)); err != nil {
		return errors.Wrapf(err, "writing dev %d block %d", dev, blockno)
	}
	return nil
}

// Checksum hashes the current on-device content of one block.
func (d *FileDevice) Checksum(dev, blockno uint32) (uint64, error) {
	p := make([]byte, d.blockSize)
	if err := d.ReadBlock(dev, blockno, p); err != nil {
		return 0, err
	}
	return xxhash.Checksum64(p), nil
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for dev, f := range d.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.files, dev)
	}
	return firstErr
}

// file returns the open handle for a device, creating the block file
// and its metadata sidecar on first use.
func (d *FileDevice) file(dev uint32) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.files[dev]; ok {
		return f, nil
	}

	blkPath := path.Join(d.dir, fmt.Sprintf("dev%d.blk", dev))
	f, err := os.OpenFile(blkPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening device %d", dev)
	}

	if err := d.checkMeta(dev); err != nil {
		f.Close()
		return nil, err
	}

	d.files[dev] = f
	return f, nil
}

func (d *FileDevice) checkMeta(dev uint32) error {
	metaPath := path.Join(d.dir, fmt.Sprintf("dev%d.meta", dev))

	raw, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		hdr := header{Magic: deviceMagic, Version: 1, BlockSize: d.blockSize}
		raw, err := msgpack.Marshal(&hdr)
		if err != nil {
			return errors.Wrap(err, "encoding device metadata")
		}
		return errors.Wrap(os.WriteFile(metaPath, raw, 0o644), "writing device metadata")
	}
	if err != nil {
		return errors.Wrap(err, "reading device metadata")
	}

	var hdr header
	if err := msgpack.Unmarshal(raw, &hdr); err != nil {
		return errors.Wrapf(err, "decoding metadata for device %d", dev)
	}
	if hdr.Magic != deviceMagic {
		return errors.Errorf("device %d: bad magic %q", dev, hdr.Magic)
	}
	if hdr.BlockSize != d.blockSize {
		return errors.Errorf("device %d: block size %d does not match configured %d",
			dev, hdr.BlockSize, d.blockSize)
	}
	return nil
}
