package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/systmms/keyrotate/pkg/credential"
)

// DefaultCredentialsDir is where CredentialsDir writes when no directory is set
const DefaultCredentialsDir = "./credentials"

// CredentialsDir writes one file per issued credential, named
// credentials-<user>-<access key id>, holding a single profile section.
// Files are never overwritten or removed, so they double as a recovery log.
type CredentialsDir struct {
	Dir     string
	Profile string
}

// NewCredentialsDir creates the sink
func NewCredentialsDir(dir, profile string) *CredentialsDir {
	if dir == "" {
		dir = DefaultCredentialsDir
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &CredentialsDir{Dir: dir, Profile: profile}
}

// Name implements Named
func (d *CredentialsDir) Name() string {
	return d.Dir
}

// Path returns the file a credential is written to
func (d *CredentialsDir) Path(identity credential.Identity, id string) string {
	return filepath.Join(d.Dir, fmt.Sprintf("credentials-%s-%s", identity.UserName, id))
}

// Persist implements rotation.ProfileSink
func (d *CredentialsDir) Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	if strings.ContainsAny(identity.UserName+cred.ID, `/\`) {
		return fmt.Errorf("refusing path separator in user %q or key %q", identity.UserName, cred.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", d.Dir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", d.Profile)
	fmt.Fprintf(&b, "access_key_id = %s\n", cred.ID)
	fmt.Fprintf(&b, "secret_access_key = %s\n", cred.Secret.Reveal())

	path := d.Path(identity, cred.ID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
