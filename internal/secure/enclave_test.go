package secure

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecureBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "secret key", data: []byte("wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY")},
		{name: "empty", data: []byte{}},
		{name: "binary", data: []byte{0x00, 0xFF, 0x10, 0x20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			expected := append([]byte(nil), tt.data...)
			buf, err := NewSecureBuffer(tt.data)
			require.NoError(t, err)
			defer buf.Destroy()

			assert.Equal(t, len(expected), buf.Size())
			err = buf.With(func(plaintext []byte) error {
				assert.Equal(t, len(expected), len(plaintext))
				if len(expected) > 0 {
					assert.Equal(t, expected, plaintext)
				}
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestSecureBufferWipesSource(t *testing.T) {
	t.Parallel()

	src := []byte("super-secret-data")
	buf, err := NewSecureBuffer(src)
	require.NoError(t, err)
	defer buf.Destroy()

	assert.Equal(t, make([]byte, len(src)), src)
}

func TestSecureBufferOpenTwice(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("reopen"))
	require.NoError(t, err)
	defer buf.Destroy()

	for i := 0; i < 2; i++ {
		locked, err := buf.Open()
		require.NoError(t, err)
		assert.Equal(t, "reopen", string(locked.Bytes()))
		locked.Destroy()
	}
}

func TestSecureBufferDestroy(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("gone"))
	require.NoError(t, err)

	buf.Destroy()
	buf.Destroy()

	_, err = buf.Open()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.Zero(t, buf.Size())
}

func TestSecureBufferWithPropagatesError(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("value"))
	require.NoError(t, err)
	defer buf.Destroy()

	boom := errors.New("boom")
	assert.ErrorIs(t, buf.With(func([]byte) error { return boom }), boom)
}

func TestSecureBufferConcurrentOpen(t *testing.T) {
	t.Parallel()

	buf, err := NewSecureBuffer([]byte("shared"))
	require.NoError(t, err)
	defer buf.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = buf.With(func(plaintext []byte) error {
				assert.Equal(t, "shared", string(plaintext))
				return nil
			})
		}()
	}
	wg.Wait()
}
