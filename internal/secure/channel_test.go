package secure

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localKeyURL generates a base64key:// URL backed by a random key.
func localKeyURL(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return "base64key://" + base64.URLEncoding.EncodeToString(key)
}

func TestKeeperChannelRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	keyURL := localKeyURL(t)
	ch := NewKeeperChannel()
	defer func() { assert.NoError(t, ch.Close()) }()

	plaintext := []byte(`{"aws_access_key_id":"AKIAEXAMPLE","aws_secret_access_key":"secret"}`)
	ciphertext, err := ch.Encrypt(ctx, plaintext, keyURL)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := ch.Decrypt(ctx, ciphertext, keyURL)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestKeeperChannelDefaultKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	keyURL := localKeyURL(t)
	ch := NewKeeperChannel(WithDefaultKey(keyURL))
	defer func() { assert.NoError(t, ch.Close()) }()

	ciphertext, err := ch.Encrypt(ctx, []byte("hello"), "")
	require.NoError(t, err)

	// same keeper under its explicit URL
	decrypted, err := ch.Decrypt(ctx, ciphertext, keyURL)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(decrypted))
	assert.Len(t, ch.keepers, 1)
}

func TestKeeperChannelWrongKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ch := NewKeeperChannel()
	defer func() { assert.NoError(t, ch.Close()) }()

	ciphertext, err := ch.Encrypt(ctx, []byte("hello"), localKeyURL(t))
	require.NoError(t, err)

	_, err = ch.Decrypt(ctx, ciphertext, localKeyURL(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestKeeperChannelNoKey(t *testing.T) {
	t.Parallel()

	ch := NewKeeperChannel()

	_, err := ch.Encrypt(context.Background(), []byte("hello"), "")

	assert.ErrorIs(t, err, ErrNoKey)
}

func TestKeeperChannelInvalidURL(t *testing.T) {
	t.Parallel()

	ch := NewKeeperChannel()

	_, err := ch.Encrypt(context.Background(), []byte("hello"), "invalid://uri")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open keeper")
}

func TestKeeperChannelAllowList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	defaultKey := localKeyURL(t)
	extraKey := localKeyURL(t)
	ch := NewKeeperChannel(WithDefaultKey(defaultKey), WithAllowedKeys(extraKey, "alias/keyrotate"))
	defer func() { assert.NoError(t, ch.Close()) }()

	_, err := ch.Encrypt(ctx, []byte("hello"), "")
	require.NoError(t, err)
	_, err = ch.Encrypt(ctx, []byte("hello"), defaultKey)
	require.NoError(t, err)
	_, err = ch.Encrypt(ctx, []byte("hello"), extraKey)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err = ch.Encrypt(ctx, []byte("hello"), localKeyURL(t))
		require.ErrorIs(t, err, ErrKeyNotAllowed)
		assert.NotContains(t, err.Error(), "base64key://c")
	}
	_, err = ch.Decrypt(ctx, []byte("junk"), "alias/other")
	assert.ErrorIs(t, err, ErrKeyNotAllowed)

	assert.Len(t, ch.keepers, 2)

	u, err := ch.keyURL("awskms:///alias/keyrotate")
	require.NoError(t, err)
	assert.Equal(t, "awskms:///alias/keyrotate", u)
}

func TestKeeperChannelEmptyAllowList(t *testing.T) {
	t.Parallel()

	ch := NewKeeperChannel(WithAllowedKeys())

	_, err := ch.Encrypt(context.Background(), []byte("hello"), localKeyURL(t))
	assert.ErrorIs(t, err, ErrKeyNotAllowed)
	_, err = ch.Encrypt(context.Background(), []byte("hello"), "")
	assert.ErrorIs(t, err, ErrNoKey)
	assert.Empty(t, ch.keepers)
}

func TestKeeperChannelDecryptSecure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	keyURL := localKeyURL(t)
	ch := NewKeeperChannel(WithDefaultKey(keyURL))
	defer func() { assert.NoError(t, ch.Close()) }()

	ciphertext, err := ch.Encrypt(ctx, []byte("sealed"), "")
	require.NoError(t, err)

	buf, err := ch.DecryptSecure(ctx, ciphertext, "")
	require.NoError(t, err)
	defer buf.Destroy()

	require.NoError(t, buf.With(func(p []byte) error {
		assert.Equal(t, "sealed", string(p))
		return nil
	}))
}

func TestKeyURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		region string
		ref    string
		want   string
	}{
		{name: "alias", ref: "alias/keyrotate", want: "awskms:///alias/keyrotate"},
		{name: "alias with region", region: "eu-west-1", ref: "alias/keyrotate", want: "awskms:///alias/keyrotate?region=eu-west-1"},
		{name: "key arn", ref: "arn:aws:kms:us-east-1:123456789012:key/abcd", want: "awskms:///arn:aws:kms:us-east-1:123456789012:key/abcd"},
		{name: "full url", region: "eu-west-1", ref: "awskms:///alias/other?region=us-west-2", want: "awskms:///alias/other?region=us-west-2"},
		{name: "local key", ref: "base64key://c2VjcmV0", want: "base64key://c2VjcmV0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ch := NewKeeperChannel(WithKMSRegion(tt.region))
			got, err := ch.keyURL(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "base64key://REDACTED", redactURL("base64key://c2VjcmV0"))
	assert.Equal(t, "awskms:///alias/x", redactURL("awskms:///alias/x"))
}
