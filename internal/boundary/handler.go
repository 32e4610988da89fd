package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/internal/providers"
	"github.com/systmms/keyrotate/internal/secure"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// ErrBadPayload is returned when the inbound payload cannot be decrypted or
// does not hold an access key pair.
var ErrBadPayload = errors.New("bad payload")

// SessionFactory builds an AWS session for caller supplied keys
type SessionFactory interface {
	NewSession(ctx context.Context, keys *providers.StaticKeys) (*providers.Session, error)
}

// EngineFactory builds the engine that serves one request's session
type EngineFactory func(session *providers.Session) (Engine, error)

// Inbound is one encrypted request as received by a transport
type Inbound struct {
	Operation    string
	KeyRef       string
	Payload      []byte
	CredentialID string
	Force        bool
}

// keyPayload is the decrypted payload
type keyPayload struct {
	AccessKeyID     string `json:"aws_access_key_id"`
	SecretAccessKey string `json:"aws_secret_access_key"`
	SessionToken    string `json:"aws_session_token,omitempty"`
}

// Handler turns encrypted requests into encrypted envelopes. Requests for the
// same identity are handled one at a time.
type Handler struct {
	channel  secure.Channel
	sessions SessionFactory
	engines  EngineFactory
	logger   *logging.Logger
	locks    rotation.KeyedMutex
}

// NewHandler creates a handler
func NewHandler(channel secure.Channel, sessions SessionFactory, engines EngineFactory, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		channel:  channel,
		sessions: sessions,
		engines:  engines,
		logger:   logger,
	}
}

// Handle decrypts the payload, resolves the caller's identity, dispatches the
// operation and returns the encrypted envelope.
func (h *Handler) Handle(ctx context.Context, in Inbound) ([]byte, error) {
	keys, err := h.decryptKeys(ctx, in)
	if err != nil {
		return nil, err
	}

	session, err := h.sessions.NewSession(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	identity, err := session.Resolver.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := h.engines(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	env, err := h.dispatch(ctx, engine, Request{
		Operation:    in.Operation,
		Identity:     identity,
		CredentialID: in.CredentialID,
		Force:        in.Force,
	})
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	ciphertext, err := h.channel.Encrypt(ctx, plaintext, in.KeyRef)
	wipe(plaintext)
	if err != nil {
		return nil, err
	}
	return ciphertext, nil
}

// dispatch runs one operation while holding the identity's lock
func (h *Handler) dispatch(ctx context.Context, engine Engine, req Request) (Envelope, error) {
	unlock := h.locks.Lock(req.Identity.Key())
	defer unlock()
	return NewDispatcher(engine, h.logger).Dispatch(ctx, req)
}

func (h *Handler) decryptKeys(ctx context.Context, in Inbound) (*providers.StaticKeys, error) {
	if len(in.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrBadPayload)
	}
	plaintext, err := h.channel.Decrypt(ctx, in.Payload, in.KeyRef)
	if err != nil {
		if errors.Is(err, secure.ErrNoKey) || errors.Is(err, secure.ErrKeyNotAllowed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}

	buf, err := secure.NewSecureBuffer(plaintext)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	var keys providers.StaticKeys
	err = buf.With(func(data []byte) error {
		var p keyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
		keys = providers.StaticKeys{
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: logging.Secret(p.SecretAccessKey),
			SessionToken:    logging.Secret(p.SessionToken),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !keys.Valid() {
		return nil, fmt.Errorf("%w: aws_access_key_id and aws_secret_access_key are required", ErrBadPayload)
	}
	return &keys, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
