package util

import (
	"github.com/mwangala/kcore/storage/disk"
	"github.com/vmihailenco/msgpack"
)

// ToByteSlice encodes obj with msgpack and pads the result to a full
// device block, so it can be written through the block cache directly.
func ToByteSlice[T any](obj T) ([]byte, error) {
	res := make([]byte, disk.BLOCK_SIZE)

	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	copy(res, data)

	return res, nil
}

func ToStruct[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
