package testutil

import "sync"

// StubSpace reports a fixed amount of free space. Safe for concurrent use.
type StubSpace struct {
	mu    sync.Mutex
	bytes uint64
	err   error
}

// NewStubSpace creates a StubSpace reporting bytes free.
func NewStubSpace(bytes uint64) *StubSpace {
	return &StubSpace{bytes: bytes}
}

// Set changes the reported free space.
func (s *StubSpace) Set(bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes = bytes
}

// Fail makes Available return err.
func (s *StubSpace) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StubSpace) Available(string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes, s.err
}
