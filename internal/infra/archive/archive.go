// Package archive stores verification evidence encrypted to one or more age
// recipients. The verifier can write entries but never read them back.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nictjh/originalCapture/internal/usecase"

	"filippo.io/age"
)

const entrySuffix = ".json.age"

type FileArchive struct {
	dir        string
	recipients []age.Recipient
}

// NewFileArchive parses recipients in the age recipients-file format, one
// public key per line.
func NewFileArchive(dir, recipients string) (*FileArchive, error) {
	if dir == "" {
		return nil, errors.New("archive dir is required")
	}
	parsed, err := age.ParseRecipients(strings.NewReader(recipients))
	if err != nil {
		return nil, fmt.Errorf("parsing archive recipients: %w", err)
	}
	if len(parsed) == 0 {
		return nil, errors.New("no archive recipients configured")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &FileArchive{dir: dir, recipients: parsed}, nil
}

func (a *FileArchive) Put(_ context.Context, ev usecase.Evidence) error {
	if ev.VerificationID == "" || strings.ContainsAny(ev.VerificationID, `/\`) {
		return fmt.Errorf("invalid verification id %q", ev.VerificationID)
	}
	plain, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(a.dir, ".evidence-*")
	if err != nil {
		return fmt.Errorf("creating archive entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	w, err := age.Encrypt(tmp, a.recipients...)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		tmp.Close()
		return fmt.Errorf("encrypting evidence: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.Path(ev.VerificationID))
}

func (a *FileArchive) Path(verificationID string) string {
	return filepath.Join(a.dir, verificationID+entrySuffix)
}

// Open decrypts one archived entry. It is meant for offline review with the
// identity that matches a configured recipient.
func Open(path string, identities ...age.Identity) (usecase.Evidence, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return usecase.Evidence{}, err
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identities...)
	if err != nil {
		return usecase.Evidence{}, fmt.Errorf("decrypting evidence: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return usecase.Evidence{}, err
	}
	var ev usecase.Evidence
	if err := json.Unmarshal(plain, &ev); err != nil {
		return usecase.Evidence{}, err
	}
	return ev, nil
}
