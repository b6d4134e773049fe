package capture

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"
)

// HashMedia returns the base64 SHA-256 of the exact bytes read from r.
func HashMedia(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashMedia(f)
}

// Encoder builds canonical capture payloads. Now and Rand default to the
// wall clock and crypto/rand.
type Encoder struct {
	Now  func() time.Time
	Rand io.Reader
}

func NewEncoder() *Encoder {
	return &Encoder{Now: time.Now, Rand: rand.Reader}
}

// Encode returns the payload and its canonical bytes. Every call draws a
// fresh nonce.
func (e *Encoder) Encode(contentHashB64, appID string) (domain.CapturePayload, []byte, error) {
	if appID == "" {
		return domain.CapturePayload{}, nil, errors.New("app id is required")
	}
	now, rnd := time.Now, io.Reader(rand.Reader)
	if e != nil && e.Now != nil {
		now = e.Now
	}
	if e != nil && e.Rand != nil {
		rnd = e.Rand
	}
	nonce := make([]byte, domain.NonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return domain.CapturePayload{}, nil, fmt.Errorf("read nonce: %w", err)
	}
	payload := domain.CapturePayload{
		Schema:         domain.PayloadSchemaV1,
		Alg:            domain.PayloadAlgES256,
		HashAlg:        domain.PayloadHashSHA256,
		ContentHashB64: contentHashB64,
		TimestampMs:    now().UnixMilli(),
		NonceB64:       base64.StdEncoding.EncodeToString(nonce),
		AppID:          appID,
	}
	if err := cryptoinfra.ValidatePayload(payload); err != nil {
		return domain.CapturePayload{}, nil, err
	}
	return payload, cryptoinfra.EncodePayload(payload), nil
}
