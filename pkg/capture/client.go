package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
)

const defaultUploadTimeout = 30 * time.Second

// Client uploads a capture to a verifier. It never retries; callers decide.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type VerifyRequest struct {
	Receipt      domain.SidecarReceipt
	Media        []byte
	MediaName    string
	Manifest     []byte
	ManifestCOSE []byte
}

// VerifyResponse keeps the raw body; Result is best-effort decoded.
type VerifyResponse struct {
	StatusCode int
	Body       []byte
	Result     VerifyResult
}

type VerifyResult struct {
	OK             bool   `json:"ok"`
	Message        string `json:"message"`
	Code           string `json:"code,omitempty"`
	VerificationID string `json:"verification_id,omitempty"`
	Verdict        string `json:"verdict,omitempty"`
	Attestation    struct {
		SecurityLevel  int    `json:"attestationSecurityLevel"`
		Classification string `json:"classification"`
	} `json:"attestation"`
	Classification *domain.ClassifierVerdict `json:"classification,omitempty"`
}

// Verify posts the multipart form to /verify. Network errors and timeouts
// are ErrTransportFailure; any HTTP response, including 4xx, is returned.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	if c == nil || c.endpoint == "" {
		return nil, errors.New("verifier endpoint is required")
	}
	body, contentType, err := encodeVerifyForm(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/verify", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransportFailure, err)
	}
	out := &VerifyResponse{StatusCode: resp.StatusCode, Body: respBody}
	_ = json.Unmarshal(respBody, &out.Result)
	return out, nil
}

func encodeVerifyForm(req VerifyRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fields := []struct{ name, value string }{
		{"payload_canonical", req.Receipt.PayloadCanonical},
		{"sig_b64", req.Receipt.SignatureB64},
	}
	for _, cert := range req.Receipt.CertChainB64 {
		fields = append(fields, struct{ name, value string }{"x5c_der_b64", cert})
	}
	if len(req.Manifest) > 0 {
		fields = append(fields, struct{ name, value string }{"manifest", string(req.Manifest)})
	}
	if len(req.ManifestCOSE) > 0 {
		fields = append(fields, struct{ name, value string }{"manifest_cose_b64", base64.StdEncoding.EncodeToString(req.ManifestCOSE)})
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	name := req.MediaName
	if name == "" {
		name = "media.bin"
	}
	part, err := w.CreateFormFile("media", filepath.Base(name))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Media); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
