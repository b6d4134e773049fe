package domain

const (
	PayloadSchemaV1   = "attest.v1"
	PayloadAlgES256   = "ES256"
	PayloadHashSHA256 = "SHA-256"

	// NonceSize is the number of random bytes behind nonce_b64.
	NonceSize = 24
)

// CapturePayload holds the facts bound to one capture. Its canonical
// encoding is the exact byte sequence that is hashed and signed.
type CapturePayload struct {
	Schema         string `json:"schema"`
	Alg            string `json:"alg"`
	HashAlg        string `json:"hash_alg"`
	ContentHashB64 string `json:"content_hash_b64"`
	TimestampMs    int64  `json:"ts_unix_ms"`
	NonceB64       string `json:"nonce_b64"`
	AppID          string `json:"app_id"`
}

// SidecarReceipt is the companion file written next to a captured asset.
type SidecarReceipt struct {
	PayloadCanonical string   `json:"payload_canonical"`
	SignatureB64     string   `json:"sig_b64"`
	CertChainB64     []string `json:"x5c_der_b64"`
}
