package soft

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	rootCertFile = "attestation-root.pem"
	rootKeyFile  = "attestation-root.key"
)

// Store keeps the emulated authority on disk so the verifier can be pointed
// at a stable trust root.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) RootCertPath() string {
	return filepath.Join(s.dir, rootCertFile)
}

func (s *Store) RootKeyPath() string {
	return filepath.Join(s.dir, rootKeyFile)
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.RootCertPath())
	return err == nil
}

func (s *Store) Load() (*Authority, error) {
	if s == nil || s.dir == "" {
		return nil, errors.New("keystore directory is required")
	}
	certPEM, err := os.ReadFile(s.RootCertPath())
	if err != nil {
		return nil, fmt.Errorf("read authority certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(s.RootKeyPath())
	if err != nil {
		return nil, fmt.Errorf("read authority key: %w", err)
	}
	return LoadAuthority(certPEM, keyPEM)
}

func (s *Store) Put(authority *Authority) error {
	if s == nil || s.dir == "" {
		return errors.New("keystore directory is required")
	}
	if authority == nil {
		return errors.New("authority is required")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	keyPEM, err := authority.KeyPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.RootKeyPath(), keyPEM, 0o600); err != nil {
		return err
	}
	return os.WriteFile(s.RootCertPath(), authority.RootPEM(), 0o644)
}

// LoadOrCreate returns the stored authority, creating one on first use.
func (s *Store) LoadOrCreate(now time.Time) (*Authority, bool, error) {
	authority, err := s.Load()
	if err == nil {
		return authority, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	authority, err = NewAuthority(now)
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(authority); err != nil {
		return nil, false, err
	}
	return authority, true, nil
}
