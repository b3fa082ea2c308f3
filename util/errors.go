package util

type KcoreError struct {
	Message string
	Err     error
}

func (e *KcoreError) Error() string {
	return e.Message
}

func (e *KcoreError) Unwrap() error {
	return e.Err
}

// ErrOutOfMemory is returned by the page allocator when every
// partition's free list is empty. Callers are expected to fail the
// requesting operation; the allocator never retries internally.
var ErrOutOfMemory = &KcoreError{Message: "out of physical memory"}
