package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/pushreg/internal/store"
)

// Storage keys for the local device.
const (
	KeyID             = "device.id"
	KeyPlatform       = "device.platform"
	KeyFormFactor     = "device.form_factor"
	KeyClientID       = "device.client_id"
	KeyTokenType      = "device.registration_token.type"
	KeyToken          = "device.registration_token.token"
	KeyUpdateToken    = "device.update_token"
	keyPrefix         = "device."
	defaultFormFactor = "phone"
	defaultPlatform   = "android"
)

// ErrNoIdentity is returned when the device has not been initialized.
var ErrNoIdentity = errors.New("device identity not initialized")

// Identity holds the host-supplied attributes of the device.
type Identity struct {
	Platform   string
	FormFactor string
	ClientID   string
}

// Local is the device identity provider backed by the durable store.
//
// Thread-safety: every method is a single read or a single atomic batch, so
// Local is safe for concurrent use.
type Local struct {
	kv    *store.Store
	newID func() string
}

// LocalOption configures a Local.
type LocalOption func(*Local)

// WithIDGenerator overrides device id generation (tests use fixed ids).
func WithIDGenerator(gen func() string) LocalOption {
	return func(l *Local) {
		l.newID = gen
	}
}

// NewLocal creates a Local over s.
func NewLocal(s *store.Store, opts ...LocalOption) *Local {
	l := &Local{
		kv: s,
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init provisions the device identity. The device id is generated once and
// kept across calls; the other attributes are overwritten.
func (l *Local) Init(ctx context.Context, id Identity) (Details, error) {
	existing, ok, err := l.kv.GetString(ctx, KeyID)
	if err != nil {
		return Details{}, fmt.Errorf("init device: %w", err)
	}

	if id.Platform == "" {
		id.Platform = defaultPlatform
	}
	if id.FormFactor == "" {
		id.FormFactor = defaultFormFactor
	}

	b := store.NewBatch()
	if !ok || existing == "" {
		b.PutString(KeyID, l.newID())
	}
	b.PutString(KeyPlatform, id.Platform)
	b.PutString(KeyFormFactor, id.FormFactor)
	if id.ClientID != "" {
		b.PutString(KeyClientID, id.ClientID)
	} else {
		b.Delete(KeyClientID)
	}
	if err := l.kv.Commit(ctx, b); err != nil {
		return Details{}, fmt.Errorf("init device: %w", err)
	}

	return l.Details(ctx)
}

// Details returns the current device record. Returns ErrNoIdentity when the
// device was never initialized.
func (l *Local) Details(ctx context.Context) (Details, error) {
	var d Details

	fields := []struct {
		key string
		dst *string
	}{
		{KeyID, &d.ID},
		{KeyPlatform, &d.Platform},
		{KeyFormFactor, &d.FormFactor},
		{KeyClientID, &d.ClientID},
		{KeyUpdateToken, &d.UpdateToken},
	}
	for _, f := range fields {
		v, _, err := l.kv.GetString(ctx, f.key)
		if err != nil {
			return Details{}, fmt.Errorf("load device: %w", err)
		}
		*f.dst = v
	}

	if d.ID == "" {
		return Details{}, ErrNoIdentity
	}

	tok, err := l.RegistrationToken(ctx)
	if err != nil {
		return Details{}, err
	}
	if tok != nil {
		d.Push = &Push{Recipient: tok.Recipient()}
	}

	return d, nil
}

// RegistrationToken returns the stored platform token, or nil if none.
func (l *Local) RegistrationToken(ctx context.Context) (*RegistrationToken, error) {
	typ, ok, err := l.kv.GetString(ctx, KeyTokenType)
	if err != nil {
		return nil, fmt.Errorf("load registration token: %w", err)
	}
	if !ok {
		return nil, nil
	}
	tok, _, err := l.kv.GetString(ctx, KeyToken)
	if err != nil {
		return nil, fmt.Errorf("load registration token: %w", err)
	}
	return &RegistrationToken{Type: TokenType(typ), Token: tok}, nil
}

// SetRegistrationToken stores the platform token.
func (l *Local) SetRegistrationToken(ctx context.Context, tok RegistrationToken) error {
	if !tok.Type.Valid() {
		return fmt.Errorf("set registration token: unknown token type %q", tok.Type)
	}
	b := store.NewBatch()
	b.PutString(KeyTokenType, string(tok.Type))
	b.PutString(KeyToken, tok.Token)
	if err := l.kv.Commit(ctx, b); err != nil {
		return fmt.Errorf("set registration token: %w", err)
	}
	return nil
}

// UpdateToken returns the server-issued update token ("" when absent).
func (l *Local) UpdateToken(ctx context.Context) (string, error) {
	tok, _, err := l.kv.GetString(ctx, KeyUpdateToken)
	if err != nil {
		return "", fmt.Errorf("load update token: %w", err)
	}
	return tok, nil
}

// SetUpdateToken stores the update token; an empty token clears it.
func (l *Local) SetUpdateToken(ctx context.Context, token string) error {
	b := store.NewBatch()
	l.StageUpdateToken(b, token)
	if err := l.kv.Commit(ctx, b); err != nil {
		return fmt.Errorf("set update token: %w", err)
	}
	return nil
}

// StageUpdateToken records the update token write in b so it commits with
// the activation checkpoint.
func (l *Local) StageUpdateToken(b *store.Batch, token string) {
	if token == "" {
		b.Delete(KeyUpdateToken)
		return
	}
	b.PutString(KeyUpdateToken, token)
}

// Reset forgets the device identity and all tokens.
func (l *Local) Reset(ctx context.Context) error {
	b := store.NewBatch()
	b.DeletePrefix(keyPrefix)
	if err := l.kv.Commit(ctx, b); err != nil {
		return fmt.Errorf("reset device: %w", err)
	}
	return nil
}
