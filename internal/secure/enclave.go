package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed buffer is opened.
var ErrDestroyed = errors.New("secure buffer destroyed")

// SecureBuffer holds a secret encrypted in memory. The plaintext only exists
// inside the LockedBuffer returned by Open.
type SecureBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewSecureBuffer seals data into a memguard enclave. memguard wipes data
// after the copy, so callers must not reuse the slice.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	size := len(data)
	if size == 0 {
		// memguard has no zero length enclave
		return &SecureBuffer{}, nil
	}
	return &SecureBuffer{enclave: memguard.NewEnclave(data), size: size}, nil
}

// Size returns the length of the sealed plaintext.
func (s *SecureBuffer) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Open decrypts the secret into a locked buffer. The caller must Destroy the
// returned buffer.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	if s.enclave == nil {
		return memguard.NewBuffer(0), nil
	}
	return s.enclave.Open()
}

// With opens the secret, passes the plaintext to fn and wipes it again. The
// slice must not escape fn.
func (s *SecureBuffer) With(fn func(plaintext []byte) error) error {
	locked, err := s.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy drops the enclave. It is safe to call more than once.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
	s.size = 0
	s.destroyed = true
}
