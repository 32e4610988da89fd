package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/systmms/keyrotate/pkg/credential"
)

// DefaultKeyringService is the keyring service name used when none is set
const DefaultKeyringService = "keyrotate"

// KeyringSink stores the credential document in the OS keyring (macOS
// Keychain, Secret Service on Linux, Windows Credential Manager) under
// service / "<account>/<user>".
type KeyringSink struct {
	Service string
}

// NewKeyringSink creates the sink
func NewKeyringSink(service string) *KeyringSink {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringSink{Service: service}
}

// Name implements Named
func (k *KeyringSink) Name() string {
	return "keyring:" + k.Service
}

// Persist implements rotation.ProfileSink
func (k *KeyringSink) Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := encodeDocument(identity, cred)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.Service, identity.Key(), doc); err != nil {
		return fmt.Errorf("keyring set %s: %w", identity.Key(), err)
	}
	return nil
}

// Load reads back the credential stored for identity
func (k *KeyringSink) Load(identity credential.Identity) (credential.Credential, error) {
	raw, err := keyring.Get(k.Service, identity.Key())
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return credential.Credential{}, fmt.Errorf("no credential in keyring for %s: %w", identity, err)
		}
		return credential.Credential{}, err
	}
	return DecodeDocument(raw)
}
