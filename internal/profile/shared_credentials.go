package profile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/systmms/keyrotate/pkg/credential"
)

// SharedCredentialsFile writes the credential into one profile of an AWS
// shared credentials file, as `aws configure set` does. Other profiles and
// other keys of the profile are preserved.
type SharedCredentialsFile struct {
	Path    string
	Profile string
}

// NewSharedCredentialsFile creates the sink. An empty path selects
// $AWS_SHARED_CREDENTIALS_FILE or ~/.aws/credentials.
func NewSharedCredentialsFile(path, profile string) (*SharedCredentialsFile, error) {
	if path == "" {
		path = os.Getenv("AWS_SHARED_CREDENTIALS_FILE")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		path = filepath.Join(home, ".aws", "credentials")
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &SharedCredentialsFile{Path: path, Profile: profile}, nil
}

// Name implements Named
func (s *SharedCredentialsFile) Name() string {
	return fmt.Sprintf("%s [%s]", s.Path, s.Profile)
}

// Persist implements rotation.ProfileSink
func (s *SharedCredentialsFile) Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	existing, err := os.ReadFile(s.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", s.Path, err)
	}

	updated := setProfileKeys(existing, s.Profile, [][2]string{
		{"aws_access_key_id", cred.ID},
		{"aws_secret_access_key", cred.Secret.Reveal()},
	})
	return writeFileAtomic(s.Path, updated)
}

// setProfileKeys sets keys inside [profile], appending the section or keys
// when missing. Lines it does not touch are kept byte for byte.
func setProfileKeys(content []byte, profile string, kv [][2]string) []byte {
	var lines []string
	if len(content) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	}

	pending := make(map[string]string, len(kv))
	for _, p := range kv {
		pending[p[0]] = p[1]
	}

	var out []string
	inProfile, seen := false, false
	flush := func() {
		for _, p := range kv {
			if v, ok := pending[p[0]]; ok {
				out = append(out, p[0]+" = "+v)
				delete(pending, p[0])
			}
		}
	}

	for _, line := range lines {
		if name, ok := sectionName(line); ok {
			if inProfile {
				flush()
			}
			inProfile = name == profile
			seen = seen || inProfile
			out = append(out, line)
			continue
		}
		if inProfile {
			if key, ok := keyName(line); ok {
				if v, found := pending[key]; found {
					out = append(out, key+" = "+v)
					delete(pending, key)
					continue
				}
			}
		}
		out = append(out, line)
	}
	if inProfile {
		flush()
	}
	if !seen {
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		out = append(out, "["+profile+"]")
		flush()
	}
	return []byte(strings.Join(out, "\n") + "\n")
}

func sectionName(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if len(t) < 2 || t[0] != '[' || t[len(t)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(t[1 : len(t)-1]), true
}

func keyName(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if t == "" || t[0] == '#' || t[0] == ';' {
		return "", false
	}
	i := strings.IndexByte(t, '=')
	if i <= 0 {
		return "", false
	}
	return strings.TrimSpace(t[:i]), true
}

// writeFileAtomic replaces path through a temp file in the same directory
// so a crash never leaves a truncated credentials file. A new file is
// created with mode 0600; an existing file keeps its mode.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
