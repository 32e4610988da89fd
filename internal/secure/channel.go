package secure

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"gocloud.dev/secrets"

	// Keeper drivers
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/localsecrets"
)

var (
	// ErrNoKey is returned when neither a key reference nor a default key is set.
	ErrNoKey = errors.New("no encryption key configured")

	// ErrKeyNotAllowed is returned when a key reference is outside the allow list.
	ErrKeyNotAllowed = errors.New("encryption key not allowed")
)

// Channel encrypts and decrypts payloads exchanged with callers. keyRef
// selects the key; an empty keyRef selects the channel default.
type Channel interface {
	Encrypt(ctx context.Context, plaintext []byte, keyRef string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, keyRef string) ([]byte, error)
}

// KeeperChannel implements Channel on gocloud.dev/secrets keepers.
//
// A key reference is either a keeper URL (awskms://..., base64key://...) or a
// bare KMS key id, ARN or alias, which is opened as awskms:///<ref>.
// Keepers are opened once per URL and reused. With an allow list only the
// default key and the listed keys are ever opened.
type KeeperChannel struct {
	defaultRef string
	region     string
	allowRefs  []string
	allowed    map[string]bool

	mu      sync.Mutex
	keepers map[string]*secrets.Keeper
}

// ChannelOption configures a KeeperChannel
type ChannelOption func(*KeeperChannel)

// WithDefaultKey sets the key used when a call passes no key reference
func WithDefaultKey(ref string) ChannelOption {
	return func(c *KeeperChannel) {
		c.defaultRef = ref
	}
}

// WithKMSRegion sets the region for bare KMS key references
func WithKMSRegion(region string) ChannelOption {
	return func(c *KeeperChannel) {
		c.region = region
	}
}

// WithAllowedKeys restricts callers to the default key and refs. Refs are
// matched after resolution, so an alias and its awskms URL are the same key.
func WithAllowedKeys(refs ...string) ChannelOption {
	return func(c *KeeperChannel) {
		c.allowRefs = append(c.allowRefs, refs...)
		if c.allowed == nil {
			c.allowed = make(map[string]bool)
		}
	}
}

// NewKeeperChannel creates a channel. Call Close to release the keepers.
func NewKeeperChannel(opts ...ChannelOption) *KeeperChannel {
	c := &KeeperChannel{keepers: make(map[string]*secrets.Keeper)}
	for _, opt := range opts {
		opt(c)
	}
	if c.allowed != nil {
		for _, ref := range append([]string{c.defaultRef}, c.allowRefs...) {
			if u, err := c.resolve(ref); err == nil {
				c.allowed[u] = true
			}
		}
	}
	return c
}

// Encrypt seals plaintext with the referenced key
func (c *KeeperChannel) Encrypt(ctx context.Context, plaintext []byte, keyRef string) ([]byte, error) {
	keeper, err := c.keeper(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	ciphertext, err := keeper.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ciphertext, nil
}

// Decrypt opens ciphertext with the referenced key
func (c *KeeperChannel) Decrypt(ctx context.Context, ciphertext []byte, keyRef string) ([]byte, error) {
	keeper, err := c.keeper(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	plaintext, err := keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// DecryptSecure opens ciphertext straight into a SecureBuffer
func (c *KeeperChannel) DecryptSecure(ctx context.Context, ciphertext []byte, keyRef string) (*SecureBuffer, error) {
	plaintext, err := c.Decrypt(ctx, ciphertext, keyRef)
	if err != nil {
		return nil, err
	}
	return NewSecureBuffer(plaintext)
}

// Close closes every opened keeper
func (c *KeeperChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for u, k := range c.keepers {
		if err := k.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close keeper %s: %w", redactURL(u), err))
		}
		delete(c.keepers, u)
	}
	return errors.Join(errs...)
}

func (c *KeeperChannel) keeper(ctx context.Context, keyRef string) (*secrets.Keeper, error) {
	keyURL, err := c.keyURL(keyRef)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.keepers[keyURL]; ok {
		return k, nil
	}
	k, err := secrets.OpenKeeper(ctx, keyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open keeper %s: %w", redactURL(keyURL), err)
	}
	c.keepers[keyURL] = k
	return k, nil
}

// keyURL resolves a key reference to a keeper URL and applies the allow list
func (c *KeeperChannel) keyURL(keyRef string) (string, error) {
	ref := strings.TrimSpace(keyRef)
	if ref == "" {
		ref = c.defaultRef
	}
	u, err := c.resolve(ref)
	if err != nil {
		return "", err
	}
	if c.allowed != nil && !c.allowed[u] {
		return "", fmt.Errorf("%w: %s", ErrKeyNotAllowed, redactURL(u))
	}
	return u, nil
}

func (c *KeeperChannel) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrNoKey
	}
	if strings.Contains(ref, "://") {
		return ref, nil
	}

	u := "awskms:///" + ref
	if c.region != "" {
		u += "?region=" + url.QueryEscape(c.region)
	}
	return u, nil
}

// redactURL keeps the scheme of a keeper URL. base64key URLs embed the key.
func redactURL(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 && strings.HasPrefix(raw, "base64key") {
		return raw[:i+3] + "REDACTED"
	}
	return raw
}
