package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nictjh/originalCapture/internal/config"
	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/infra/classifier"
	"github.com/nictjh/originalCapture/internal/infra/crypto"
	"github.com/nictjh/originalCapture/internal/infra/keys/soft"
	"github.com/nictjh/originalCapture/internal/infra/logging"
	"github.com/nictjh/originalCapture/internal/infra/policyopa"
	"github.com/nictjh/originalCapture/internal/infra/ratelimit"
	"github.com/nictjh/originalCapture/internal/infra/recordmem"
	"github.com/nictjh/originalCapture/internal/infra/replay"
	"github.com/nictjh/originalCapture/internal/provenance"
	"github.com/nictjh/originalCapture/internal/usecase"
	"github.com/nictjh/originalCapture/pkg/capture"

	"github.com/gin-gonic/gin"
)

const (
	testAppID    = "com.example.capture"
	testAdminKey = "admin-secret"
)

type fixture struct {
	server    *Server
	authority *soft.Authority
	records   *recordmem.VerificationStore
	keys      *recordmem.DeviceKeyStore
}

func newFixture(t *testing.T, tweak func(*usecase.VerifySettings)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authority, err := soft.NewAuthority(time.Now())
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	policy, err := policyopa.NewEngine(context.Background(), "", "")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	settings := usecase.VerifySettings{
		RequireTrustedChain: true,
		ReplayWindow:        5 * time.Minute,
		ClockSkew:           time.Minute,
	}
	if tweak != nil {
		tweak(&settings)
	}
	records := recordmem.NewVerificationStore()
	keys := recordmem.NewDeviceKeyStore()
	uc := &usecase.VerifyCapture{
		Crypto:     crypto.NewService(),
		Policy:     policy,
		Nonces:     replay.NewMemoryNonceStore(replay.MemoryNonceStoreConfig{}),
		Classifier: classifier.Rules{},
		Records:    records,
		DeviceKeys: keys,
		TrustRoots: authority.RootPool(),
		Settings:   settings,
		Logger:     logging.Discard(),
	}
	srv := NewServerWithDeps(config.Config{MaxUploadBytes: 1 << 20}, ServerDeps{
		Verify:      uc,
		AdminAPIKey: testAdminKey,
		Logger:      logging.Discard(),
	})
	return &fixture{server: srv, authority: authority, records: records, keys: keys}
}

func (f *fixture) capture(t *testing.T, profile soft.Profile, media []byte) domain.SidecarReceipt {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, media, 0o600); err != nil {
		t.Fatalf("write media: %v", err)
	}
	uc := &usecase.Capture{
		Keystore: soft.NewManager(f.authority, soft.Options{Profile: profile}),
		Encoder:  capture.NewEncoder(),
		AppID:    testAppID,
		Logger:   logging.Discard(),
	}
	out, err := uc.Execute(context.Background(), usecase.CaptureRequest{MediaPath: path})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return out.Receipt
}

func (f *fixture) post(t *testing.T, req capture.VerifyRequest) (*httptest.ResponseRecorder, verifyResponse) {
	t.Helper()
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	resp, err := capture.NewClient(ts.URL, 5*time.Second).Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	rec := httptest.NewRecorder()
	rec.Code = resp.StatusCode
	rec.Body = bytes.NewBuffer(resp.Body)
	var body verifyResponse
	_ = json.Unmarshal(resp.Body, &body)
	return rec, body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHealthz_NoDBMode(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"mode":"no-db"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestVerify_StrongBoxCaptureIsAuthentic(t *testing.T) {
	f := newFixture(t, nil)
	media := []byte("jpeg bytes from the camera")
	receipt := f.capture(t, soft.ProfileStrongBox, media)

	rec, body := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: media, MediaName: "photo.jpg"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !body.OK || body.Verdict != classifier.LabelBenign {
		t.Fatalf("unexpected result: %+v", body)
	}
	if body.Attestation.Classification != domain.ClassificationStrongBox || body.Attestation.SecurityLevel != domain.SecurityLevelStrongBox {
		t.Fatalf("attestation = %+v", body.Attestation)
	}
	if !body.Attestation.ChainTrusted || !body.Attestation.ChallengeMatches {
		t.Fatalf("expected trusted chain with matching challenge: %+v", body.Attestation)
	}

	get := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/verifications/"+body.VerificationID, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("lookup status = %d", get.Code)
	}
	var stored verificationRecordResponse
	if err := json.Unmarshal(get.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if !stored.OK || stored.AppID != testAppID || stored.Classification != string(domain.ClassificationStrongBox) {
		t.Fatalf("stored record = %+v", stored)
	}
}

func TestVerify_OneByteChangeIsHashMismatch(t *testing.T) {
	f := newFixture(t, nil)
	media := []byte("jpeg bytes from the camera")
	receipt := f.capture(t, soft.ProfileStrongBox, media)

	tampered := append([]byte(nil), media...)
	tampered[0] ^= 0x01
	rec, _ := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: tampered})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "HASH_MISMATCH" || got.OK {
		t.Fatalf("error = %+v", got)
	}
}

func TestVerify_ReplayIsConflict(t *testing.T) {
	f := newFixture(t, nil)
	media := []byte("replayed media")
	receipt := f.capture(t, soft.ProfileStrongBox, media)

	if rec, _ := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: media}); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec, _ := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: media})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "REPLAY_DETECTED" {
		t.Fatalf("error = %+v", got)
	}
}

func TestVerify_SoftwareKeyIsForbidden(t *testing.T) {
	f := newFixture(t, nil)
	media := []byte("emulator media")
	receipt := f.capture(t, soft.ProfileSoftware, media)

	rec, body := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: media})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if body.OK || body.Verdict != domain.VerdictNotAuthentic {
		t.Fatalf("unexpected result: %+v", body)
	}
	if len(body.Attestation.Deny) != 1 || body.Attestation.Deny[0].Code != "SOFTWARE_ATTESTATION" {
		t.Fatalf("deny = %+v", body.Attestation.Deny)
	}
	stored, err := f.records.GetByID(context.Background(), body.VerificationID)
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if stored.ErrorCode != "POLICY_DENIED" {
		t.Fatalf("error code = %q", stored.ErrorCode)
	}
}

func TestVerify_ManifestDrivesVerdict(t *testing.T) {
	f := newFixture(t, nil)
	media := []byte("edited media")
	receipt := f.capture(t, soft.ProfileTEE, media)

	session := provenance.NewSession(provenance.MediaMeta{Width: 100, Height: 100, Format: "jpeg"})
	if err := session.Apply(provenance.Compose("face_swap", 20, 0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	manifest, err := session.ManifestJSON()
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}

	rec, body := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: media, Manifest: manifest})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if body.Verdict != classifier.LabelRisky || body.Classification == nil || body.Classification.RiskScore != 0.6 {
		t.Fatalf("unexpected verdict: %+v", body)
	}
	if body.Edits == nil || !body.Edits.Consistent {
		t.Fatalf("edits = %+v", body.Edits)
	}
	if body.Attestation.Classification != domain.ClassificationTEE {
		t.Fatalf("classification = %s", body.Attestation.Classification)
	}
}

func TestVerify_AcceptsChainAsJSONArrayField(t *testing.T) {
	f := newFixture(t, nil)
	media := []byte("legacy client media")
	receipt := f.capture(t, soft.ProfileStrongBox, media)

	chainJSON, err := json.Marshal(receipt.CertChainB64)
	if err != nil {
		t.Fatalf("marshal chain: %v", err)
	}
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	_ = w.WriteField("payload_canonical", receipt.PayloadCanonical)
	_ = w.WriteField("sig_b64", receipt.SignatureB64)
	_ = w.WriteField("x5c_der_b64", string(chainJSON))
	part, err := w.CreateFormFile("media", "photo.jpg")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(media)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/verify", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVerify_MissingMediaIsInvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	_ = w.WriteField("payload_canonical", "{}")
	_ = w.WriteField("sig_b64", "AAAA")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/verify", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "INVALID_REQUEST" {
		t.Fatalf("error = %+v", got)
	}
}

func TestDeviceKeys_RequireAdminKey(t *testing.T) {
	f := newFixture(t, nil)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := `{"kid":"device-1","public_key":"` + base64.StdEncoding.EncodeToString(der) + `"}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/apps/"+testAppID+"/device-keys", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/apps/"+testAppID+"/device-keys", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", testAdminKey)
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status with key = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/apps/"+testAppID+"/device-keys", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	f.server.Handler().ServeHTTP(rec, req)
	var list struct {
		Keys []deviceKeyResponse `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Keys) != 1 || list.Keys[0].KID != "device-1" || list.Keys[0].Classification != string(domain.ClassificationHardwareNoChain) {
		t.Fatalf("keys = %+v", list.Keys)
	}
}

func TestVerify_RegisteredKeyWithoutChain(t *testing.T) {
	f := newFixture(t, func(s *usecase.VerifySettings) { s.AllowRegisteredKeys = true })
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := f.keys.Create(context.Background(), domain.DeviceKey{AppID: testAppID, KID: "device-1", PublicKey: der}); err != nil {
		t.Fatalf("register: %v", err)
	}

	media := []byte("media from an older device")
	_, canonical, err := capture.NewEncoder().Encode(crypto.SHA256B64(media), testAppID)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	digest := sha256.Sum256(canonical)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	receipt := capture.NewReceipt(canonical, base64.StdEncoding.EncodeToString(sig), nil)

	rec, body := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: media})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !body.Attestation.RegisteredKey || body.Attestation.Classification != domain.ClassificationHardwareNoChain {
		t.Fatalf("attestation = %+v", body.Attestation)
	}
}

func TestVerify_EmptyChainWithoutRegisteredKeys(t *testing.T) {
	f := newFixture(t, nil)
	media := []byte("unattested media")
	_, canonical, err := capture.NewEncoder().Encode(crypto.SHA256B64(media), testAppID)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	receipt := capture.NewReceipt(canonical, base64.StdEncoding.EncodeToString([]byte("not a signature")), nil)

	rec, _ := f.post(t, capture.VerifyRequest{Receipt: receipt, Media: media})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "KEY_UNKNOWN" {
		t.Fatalf("error = %+v", got)
	}
}

func TestRateLimit_SetsHeadersAndRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{RateLimitRequests: 1, RateLimitWindowSeconds: 60}
	srv := NewServerWithDeps(cfg, ServerDeps{
		Records:     recordmem.NewVerificationStore(),
		RateLimiter: ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}),
		Logger:      logging.Discard(),
	})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/verifications/missing", nil))
	if first.Code != http.StatusNotFound {
		t.Fatalf("first status = %d", first.Code)
	}
	if first.Header().Get("RateLimit-Limit") != "1" {
		t.Fatalf("missing RateLimit-Limit header")
	}

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/verifications/missing", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}
