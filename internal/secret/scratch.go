// Package secret provides page-locked scratch memory for key material:
// bytes that stay out of swap and core dumps, can be wiped in place
// between uses, and are zeroed before release.
//
// The backing memory is an anonymous mmap region outside the Go heap,
// so the garbage collector never copies or relocates it.
package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Scratch is a fixed-size locked buffer. It must not be copied. After
// Close, any access to its contents panics.
type Scratch struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewScratch allocates a locked buffer of the given size: mmap'd outside
// the heap, mlock'd against swap, and excluded from core dumps where the
// kernel supports MADV_DONTDUMP (best effort, swap protection holds
// either way).
func NewScratch(size int) (*Scratch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: scratch size must be positive, got %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
	return &Scratch{data: data}, nil
}

// Bytes returns the scratch contents. The slice aliases the locked
// region; do not retain it past the buffer's lifetime.
func (s *Scratch) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic("secret: access to closed scratch")
	}
	return s.data
}

// Wipe zeroes the contents in place. The mapping stays valid for reuse.
func (s *Scratch) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
}

// Close wipes, unlocks and unmaps the region. Idempotent.
func (s *Scratch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for i := range s.data {
		s.data[i] = 0
	}
	var firstErr error
	if err := unix.Munlock(s.data); err != nil {
		firstErr = fmt.Errorf("secret: munlock: %w", err)
	}
	if err := unix.Munmap(s.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secret: munmap: %w", err)
	}
	s.data = nil
	return firstErr
}
