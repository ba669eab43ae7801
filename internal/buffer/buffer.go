// Package buffer hands encoded bytes to foreign callers.
//
// Every buffer is allocated with C malloc and must be returned exactly once
// through Free, which calls C free. Go's garbage collector never owns memory
// returned by Alloc. Freeing the same pointer twice, or a pointer that did not
// come from Alloc, is a caller error and is not detected.
package buffer

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// ErrOutOfMemory is returned when the C allocator cannot satisfy a request.
var ErrOutOfMemory = errors.New("buffer allocation failed")

// Allocator transfers byte slices into caller-owned memory
type Allocator interface {
	// Alloc copies data into a new allocation sized exactly len(data).
	// The returned pointer is never nil on success, even for empty data.
	Alloc(data []byte) (unsafe.Pointer, error)
	// Free releases a pointer returned by Alloc. Free(nil) is a no-op.
	Free(p unsafe.Pointer)
}

// CAllocator allocates with malloc and releases with free
type CAllocator struct {
	outstanding atomic.Int64
}

// NewCAllocator creates a C heap allocator
func NewCAllocator() *CAllocator {
	return &CAllocator{}
}

// Alloc implements Allocator
func (a *CAllocator) Alloc(data []byte) (unsafe.Pointer, error) {
	size := len(data)
	// malloc(0) may legally return NULL; a successful call must not.
	n := size
	if n == 0 {
		n = 1
	}

	p := C.malloc(C.size_t(n))
	if p == nil {
		return nil, ErrOutOfMemory
	}
	if size > 0 {
		C.memcpy(p, unsafe.Pointer(&data[0]), C.size_t(size))
	}
	a.outstanding.Add(1)
	return p, nil
}

// Free implements Allocator
func (a *CAllocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	C.free(p)
	a.outstanding.Add(-1)
}

// Outstanding reports allocations not yet freed
func (a *CAllocator) Outstanding() int64 {
	return a.outstanding.Load()
}

// Bytes views n bytes at p without copying. Intended for tests and
// diagnostics on memory still owned by the caller.
func Bytes(p unsafe.Pointer, n int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}
