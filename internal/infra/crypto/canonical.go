package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nictjh/originalCapture/internal/domain"
)

// EncodePayload writes the capture payload in its one canonical form:
// fixed field order, no whitespace. Changing this output requires a new
// schema id.
func EncodePayload(p domain.CapturePayload) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(`{"schema":`)
	writeString(buf, p.Schema)
	buf.WriteString(`,"alg":`)
	writeString(buf, p.Alg)
	buf.WriteString(`,"hash_alg":`)
	writeString(buf, p.HashAlg)
	buf.WriteString(`,"content_hash_b64":`)
	writeString(buf, p.ContentHashB64)
	buf.WriteString(`,"ts_unix_ms":`)
	buf.WriteString(strconv.FormatInt(p.TimestampMs, 10))
	buf.WriteString(`,"nonce_b64":`)
	writeString(buf, p.NonceB64)
	buf.WriteString(`,"app_id":`)
	writeString(buf, p.AppID)
	buf.WriteByte('}')
	return buf.Bytes()
}

// DecodePayload parses signed payload bytes and rejects anything that is
// not already in canonical form.
func DecodePayload(raw []byte) (domain.CapturePayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p domain.CapturePayload
	if err := dec.Decode(&p); err != nil {
		return domain.CapturePayload{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if !bytes.Equal(EncodePayload(p), raw) {
		return domain.CapturePayload{}, fmt.Errorf("%w: payload is not canonical", domain.ErrInvalidPayload)
	}
	if err := ValidatePayload(p); err != nil {
		return domain.CapturePayload{}, err
	}
	return p, nil
}

func ValidatePayload(p domain.CapturePayload) error {
	if p.Schema != domain.PayloadSchemaV1 {
		return fmt.Errorf("%w: unsupported schema %q", domain.ErrInvalidPayload, p.Schema)
	}
	if p.Alg != domain.PayloadAlgES256 || p.HashAlg != domain.PayloadHashSHA256 {
		return fmt.Errorf("%w: unsupported algorithm", domain.ErrInvalidPayload)
	}
	if p.AppID == "" {
		return fmt.Errorf("%w: app_id is required", domain.ErrInvalidPayload)
	}
	hash, err := base64.StdEncoding.DecodeString(p.ContentHashB64)
	if err != nil || len(hash) != 32 {
		return fmt.Errorf("%w: content_hash_b64 must be a base64 sha256 digest", domain.ErrInvalidPayload)
	}
	nonce, err := base64.StdEncoding.DecodeString(p.NonceB64)
	if err != nil || len(nonce) != domain.NonceSize {
		return fmt.Errorf("%w: nonce_b64 must encode %d bytes", domain.ErrInvalidPayload, domain.NonceSize)
	}
	if p.TimestampMs <= 0 {
		return fmt.Errorf("%w: ts_unix_ms is required", domain.ErrInvalidPayload)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")
