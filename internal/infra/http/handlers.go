package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"
	"github.com/nictjh/originalCapture/internal/provenance"
	"github.com/nictjh/originalCapture/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type verifyResponse struct {
	OK                     bool                      `json:"ok"`
	Message                string                    `json:"message"`
	VerificationID         string                    `json:"verification_id"`
	Verdict                string                    `json:"verdict"`
	Payload                domain.CapturePayload     `json:"payload"`
	Attestation            domain.AttestationSummary `json:"attestation"`
	Classification         *domain.ClassifierVerdict `json:"classification"`
	Edits                  *provenance.Summary       `json:"edits,omitempty"`
	ManifestSignatureValid *bool                     `json:"manifest_signature_valid,omitempty"`
	Reasons                []string                  `json:"reasons"`
}

type verificationRecordResponse struct {
	ID                       string  `json:"id"`
	AppID                    string  `json:"app_id"`
	ContentHashB64           string  `json:"content_hash_b64"`
	NonceB64                 string  `json:"nonce_b64"`
	Classification           string  `json:"classification"`
	AttestationSecurityLevel int     `json:"attestationSecurityLevel"`
	OK                       bool    `json:"ok"`
	Verdict                  string  `json:"verdict"`
	Label                    string  `json:"label,omitempty"`
	RiskScore                float64 `json:"risk_score"`
	Message                  string  `json:"message"`
	ErrorCode                string  `json:"error_code,omitempty"`
	CreatedAt                string  `json:"created_at"`
}

type deviceKeyRequest struct {
	KID            string `json:"kid"`
	PublicKey      string `json:"public_key"`
	Classification string `json:"classification"`
	Status         string `json:"status"`
}

type deviceKeyResponse struct {
	ID             string `json:"id,omitempty"`
	AppID          string `json:"app_id"`
	KID            string `json:"kid"`
	PublicKey      string `json:"public_key"`
	Classification string `json:"classification"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at,omitempty"`
}

func (s *Server) handleVerify(c *gin.Context) {
	if !s.enforceRateLimit(c, routeVerify) {
		return
	}
	if s.verifyUC == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "VERIFIER_UNAVAILABLE", "verifier not configured")
		return
	}
	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.cfg.MaxUploadBytes))
	}
	req, err := readVerifyForm(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "upload exceeds size limit")
			return
		}
		writeError(c, err)
		return
	}

	outcome, err := s.verifyUC.Execute(c.Request.Context(), req)
	if err != nil {
		if domain.ErrorCode(err) == "INTERNAL" {
			s.logger.Error("verification failed", "error", err)
		}
		writeError(c, err)
		return
	}
	result := outcome.Result
	reasons := outcome.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	status := http.StatusOK
	if !result.OK {
		status = http.StatusForbidden
	}
	c.JSON(status, verifyResponse{
		OK:                     result.OK,
		Message:                result.Message,
		VerificationID:         result.ID,
		Verdict:                result.Verdict,
		Payload:                result.Payload,
		Attestation:            result.Attestation,
		Classification:         result.Classification,
		Edits:                  outcome.Edits,
		ManifestSignatureValid: result.ManifestSignatureValid,
		Reasons:                reasons,
	})
}

const multipartMemory = 32 << 20

// readVerifyForm accepts the certificate chain either as repeated
// x5c_der_b64 fields or as one field holding a JSON array of strings.
func readVerifyForm(c *gin.Context) (usecase.VerifyCaptureRequest, error) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return usecase.VerifyCaptureRequest{}, err
		}
		return usecase.VerifyCaptureRequest{}, fmt.Errorf("%w: multipart form required", domain.ErrInvalidRequest)
	}
	payload := c.PostForm("payload_canonical")
	sig := strings.TrimSpace(c.PostForm("sig_b64"))
	if payload == "" || sig == "" {
		return usecase.VerifyCaptureRequest{}, fmt.Errorf("%w: payload_canonical and sig_b64 are required", domain.ErrInvalidRequest)
	}
	chain, err := certChainField(c.PostFormArray("x5c_der_b64"))
	if err != nil {
		return usecase.VerifyCaptureRequest{}, err
	}
	req := usecase.VerifyCaptureRequest{
		PayloadCanonical: payload,
		SignatureB64:     sig,
		CertChainB64:     chain,
	}

	file, err := c.FormFile("media")
	if err != nil {
		return usecase.VerifyCaptureRequest{}, fmt.Errorf("%w: media file required", domain.ErrInvalidRequest)
	}
	if req.Media, err = readFormFile(file); err != nil {
		return usecase.VerifyCaptureRequest{}, err
	}
	req.MediaName = file.Filename

	if manifest := c.PostForm("manifest"); manifest != "" {
		req.Manifest = []byte(manifest)
	} else if mf, err := c.FormFile("manifest"); err == nil {
		if req.Manifest, err = readFormFile(mf); err != nil {
			return usecase.VerifyCaptureRequest{}, err
		}
	}
	if coseB64 := strings.TrimSpace(c.PostForm("manifest_cose_b64")); coseB64 != "" {
		cose, err := base64.StdEncoding.DecodeString(coseB64)
		if err != nil {
			return usecase.VerifyCaptureRequest{}, fmt.Errorf("%w: manifest_cose_b64 is not base64", domain.ErrInvalidRequest)
		}
		req.ManifestCOSE = cose
	}
	return req, nil
}

func certChainField(values []string) ([]string, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var chain []string
		if err := json.Unmarshal([]byte(values[0]), &chain); err != nil {
			return nil, fmt.Errorf("%w: x5c_der_b64 is not a JSON array of strings", domain.ErrInvalidRequest)
		}
		return chain, nil
	}
	chain := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			chain = append(chain, v)
		}
	}
	return chain, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable upload", domain.ErrInvalidRequest)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleGetVerification(c *gin.Context) {
	if !s.enforceRateLimit(c, routeVerificationsRead) {
		return
	}
	if s.records == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "verification store not configured")
		return
	}
	rec, err := s.records.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verificationRecordResponse{
		ID:                       rec.ID,
		AppID:                    rec.AppID,
		ContentHashB64:           rec.ContentHashB64,
		NonceB64:                 rec.NonceB64,
		Classification:           string(rec.Classification),
		AttestationSecurityLevel: rec.SecurityLevel,
		OK:                       rec.OK,
		Verdict:                  rec.Verdict,
		Label:                    rec.Label,
		RiskScore:                rec.RiskScore,
		Message:                  rec.Message,
		ErrorCode:                rec.ErrorCode,
		CreatedAt:                rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleAdminRegisterDeviceKey(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.deviceKeys == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "device key store not configured")
		return
	}
	var req deviceKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid json body")
		return
	}
	appID := c.Param("app_id")
	if strings.TrimSpace(req.KID) == "" || strings.TrimSpace(req.PublicKey) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "kid and public_key are required")
		return
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.PublicKey))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "public_key must be base64 PKIX DER")
		return
	}
	if _, err := cryptoinfra.ParsePublicKeyDER(der); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "public_key must be a P-256 PKIX key")
		return
	}
	classification := domain.ClassificationHardwareNoChain
	if req.Classification != "" {
		parsed, ok := domain.ParseClassification(req.Classification)
		if !ok {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown classification")
			return
		}
		classification = parsed
	}
	status := domain.KeyStatusActive
	switch domain.KeyStatus(strings.ToLower(req.Status)) {
	case "", domain.KeyStatusActive:
	case domain.KeyStatusRetired:
		status = domain.KeyStatusRetired
	case domain.KeyStatusRevoked:
		status = domain.KeyStatusRevoked
	default:
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown status")
		return
	}

	key := domain.DeviceKey{
		AppID:          appID,
		KID:            req.KID,
		PublicKey:      der,
		Classification: classification,
		Status:         status,
	}
	if err := s.deviceKeys.Create(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDeviceKeyResponse(key))
}

func (s *Server) handleListDeviceKeys(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.deviceKeys == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "device key store not configured")
		return
	}
	keys, err := s.deviceKeys.ListByApp(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]deviceKeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, toDeviceKeyResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

func toDeviceKeyResponse(key domain.DeviceKey) deviceKeyResponse {
	resp := deviceKeyResponse{
		ID:             key.ID,
		AppID:          key.AppID,
		KID:            key.KID,
		PublicKey:      base64.StdEncoding.EncodeToString(key.PublicKey),
		Classification: string(key.Classification),
		Status:         string(key.Status),
	}
	if key.Status == "" {
		resp.Status = string(domain.KeyStatusActive)
	}
	if !key.CreatedAt.IsZero() {
		resp.CreatedAt = key.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	switch code {
	case "REPLAY_DETECTED":
		writeErrorCode(c, http.StatusConflict, code, err.Error())
	case "NOT_FOUND":
		writeErrorCode(c, http.StatusNotFound, code, "not found")
	case "UNAUTHORIZED":
		writeErrorCode(c, http.StatusUnauthorized, code, "unauthorized")
	case "INTERNAL":
		writeErrorCode(c, http.StatusInternalServerError, code, "internal error")
	default:
		writeErrorCode(c, http.StatusBadRequest, code, err.Error())
	}
}

func writeErrorCode(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{OK: false, Code: code, Message: msg})
}
