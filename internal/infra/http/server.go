package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nictjh/originalCapture/internal/config"
	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/infra/archive"
	"github.com/nictjh/originalCapture/internal/infra/classifier"
	"github.com/nictjh/originalCapture/internal/infra/crypto"
	"github.com/nictjh/originalCapture/internal/infra/db"
	"github.com/nictjh/originalCapture/internal/infra/policyopa"
	"github.com/nictjh/originalCapture/internal/infra/ratelimit"
	"github.com/nictjh/originalCapture/internal/infra/recordmem"
	"github.com/nictjh/originalCapture/internal/infra/replay"
	"github.com/nictjh/originalCapture/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const rateLimitRedisPrefix = "originalcapture:ratelimit:"

type Server struct {
	cfg    config.Config
	store  *db.Store
	r      *gin.Engine
	logger *slog.Logger
	redis  *redis.Client

	verifyUC   *usecase.VerifyCapture
	records    usecase.VerificationRepository
	deviceKeys usecase.DeviceKeyRepository

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

// NewServer wires the verifier from configuration: postgres or in-memory
// records, redis or in-memory nonces, the embedded or configured policy
// bundle, the classifier and the optional evidence archive.
func NewServer(ctx context.Context, cfg config.Config, store *db.Store, logger *slog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, store: store, r: newEngine(), logger: loggerOr(logger)}
	if err := s.initDeps(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.routes()
	return s, nil
}

type ServerDeps struct {
	Verify      *usecase.VerifyCapture
	Records     usecase.VerificationRepository
	DeviceKeys  usecase.DeviceKeyRepository
	RateLimiter domain.RateLimiter
	AdminAPIKey string
	Logger      *slog.Logger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	s := &Server{
		cfg:         cfg,
		r:           newEngine(),
		logger:      loggerOr(deps.Logger),
		verifyUC:    deps.Verify,
		records:     deps.Records,
		deviceKeys:  deps.DeviceKeys,
		adminAPIKey: deps.AdminAPIKey,
	}
	if s.records == nil && s.verifyUC != nil {
		s.records = s.verifyUC.Records
	}
	if s.deviceKeys == nil && s.verifyUC != nil {
		s.deviceKeys = s.verifyUC.DeviceKeys
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

func (s *Server) initDeps(ctx context.Context) error {
	s.adminAPIKey = s.cfg.AdminAPIKey

	if s.store.Enabled() {
		s.records = db.NewVerificationRepository(s.store.DB)
		s.deviceKeys = db.NewDeviceKeyRepository(s.store.DB)
	} else {
		s.records = recordmem.NewVerificationStore()
		s.deviceKeys = recordmem.NewDeviceKeyStore()
	}

	var nonces usecase.NonceStore
	if s.cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		store, err := replay.NewRedisNonceStore(s.redis, replay.DefaultRedisPrefix)
		if err != nil {
			return err
		}
		nonces = store
	} else {
		nonces = replay.NewMemoryNonceStore(replay.MemoryNonceStoreConfig{})
	}

	policy, err := policyopa.NewEngine(ctx, s.cfg.PolicyBundlePath, s.cfg.PolicyBundleID)
	if err != nil {
		return fmt.Errorf("load policy bundle: %w", err)
	}
	s.logger.Info("policy bundle loaded", "bundle_id", policy.BundleID(), "bundle_hash", policy.BundleHash())

	roots, err := s.cfg.LoadTrustRoots()
	if err != nil {
		return err
	}
	if roots == nil && s.cfg.RequireTrustedChain {
		s.logger.Warn("TRUST_ROOTS_PEM not set; every attestation chain will be reported untrusted")
	}

	var evidence usecase.EvidenceArchive
	if s.cfg.ArchiveDir != "" {
		fa, err := archive.NewFileArchive(s.cfg.ArchiveDir, s.cfg.ArchiveRecipients)
		if err != nil {
			return fmt.Errorf("open evidence archive: %w", err)
		}
		evidence = fa
	}

	s.verifyUC = &usecase.VerifyCapture{
		Crypto:     crypto.NewService(),
		Policy:     policy,
		Nonces:     nonces,
		Classifier: classifier.New(s.cfg.ClassifierURL, s.cfg.ClassifierTimeout(), s.logger),
		Records:    s.records,
		DeviceKeys: s.deviceKeys,
		Archive:    evidence,
		TrustRoots: roots,
		Settings: usecase.VerifySettings{
			AcceptSoftware:      s.cfg.AcceptSoftwareAttestation,
			RequireTrustedChain: s.cfg.RequireTrustedChain,
			ExpectedAppID:       s.cfg.ExpectedAppID,
			AllowRegisteredKeys: s.cfg.AllowRegisteredKeys,
			ReplayWindow:        s.cfg.ReplayWindow(),
			ClockSkew:           s.cfg.ClockSkew(),
		},
		Logger: s.logger,
	}

	s.initRateLimit(nil)
	return nil
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.redis != nil {
			if limiter, err := ratelimit.NewRedisLimiter(s.redis, rateLimitRedisPrefix, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = s.cfg.RateLimitWindow()
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		dbMode := "no-db"
		if s.store.Enabled() {
			dbMode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": dbMode})
	})

	s.r.POST("/verify", s.handleVerify)

	v1 := s.r.Group("/v1")
	{
		v1.GET("/verifications/:id", s.handleGetVerification)
		v1.GET("/apps/:app_id/device-keys", s.handleListDeviceKeys)
		v1.POST("/apps/:app_id/device-keys", s.handleAdminRegisterDeviceKey)
	}

	s.r.NoRoute(s.handleNoRoute)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

func (s *Server) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
