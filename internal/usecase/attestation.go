package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nictjh/originalCapture/internal/domain"
	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"
)

// GenerateAttestedKey creates a per-capture key, preferring StrongBox and
// falling back to TEE exactly once.
type GenerateAttestedKey struct {
	Keystore domain.Keystore
	Logger   *slog.Logger
	// Cleanup removes an entry left behind by a failed StrongBox attempt.
	// Defaults to Keystore.DeleteKey.
	Cleanup func(ctx context.Context, alias string) error
}

func (uc *GenerateAttestedKey) Execute(ctx context.Context, alias string, challenge []byte) (domain.AttestationResult, error) {
	if uc.Keystore == nil {
		return domain.AttestationResult{}, errors.New("keystore is required")
	}
	logger := loggerOrDefault(uc.Logger)
	result := domain.AttestationResult{
		Alias:         alias,
		RequestedTier: domain.TierStrongBox,
		AchievedTier:  domain.TierStrongBox,
	}

	strongErr := uc.Keystore.GenerateKey(ctx, alias, challenge, domain.TierStrongBox)
	if strongErr != nil {
		logger.Info("strongbox key generation failed, falling back to tee", "alias", alias, "error", strongErr)
		if err := uc.cleanupLeftover(ctx, alias); err != nil {
			return domain.AttestationResult{}, fmt.Errorf("%w: %w", domain.ErrHardwareUnavailable, errors.Join(strongErr, err))
		}
		if teeErr := uc.Keystore.GenerateKey(ctx, alias, challenge, domain.TierTEE); teeErr != nil {
			return domain.AttestationResult{}, fmt.Errorf("%w: %w", domain.ErrHardwareUnavailable, errors.Join(strongErr, teeErr))
		}
		result.AchievedTier = domain.TierTEE
		result.FellBack = true
	}

	chain, err := uc.Keystore.CertificateChain(ctx, alias)
	if err != nil {
		logger.Warn("certificate chain unavailable", "alias", alias, "error", err)
		chain = nil
	}
	if len(chain) > 0 {
		certs, err := cryptoinfra.ParseCertChainDER(chain)
		if err == nil {
			result.CertChain = chain
			result.Classification = cryptoinfra.ClassifyChain(certs, result.AchievedTier == domain.TierStrongBox)
			result.Summary = fmt.Sprintf("tier=%s fell_back=%t chain=%d classification=%s",
				result.AchievedTier, result.FellBack, len(chain), result.Classification)
			return result, nil
		}
		logger.Warn("certificate chain unparsable", "alias", alias, "error", err)
	}

	inside, err := uc.Keystore.InsideSecureHardware(ctx, alias)
	if err != nil {
		logger.Warn("secure hardware residency unavailable", "alias", alias, "error", err)
		inside = nil
	}
	result.CertChain = [][]byte{}
	result.InsideSecureHardware = inside
	if inside != nil && *inside {
		result.Classification = domain.ClassificationHardwareNoChain
	} else {
		result.Classification = domain.ClassificationNone
	}
	result.Summary = fmt.Sprintf("tier=%s fell_back=%t chain=0 classification=%s",
		result.AchievedTier, result.FellBack, result.Classification)
	return result, nil
}

// cleanupLeftover deletes a half-created entry under alias, if any.
func (uc *GenerateAttestedKey) cleanupLeftover(ctx context.Context, alias string) error {
	present, err := uc.Keystore.Contains(ctx, alias)
	if err != nil {
		return fmt.Errorf("inspect alias after failed generation: %w", err)
	}
	if !present {
		return nil
	}
	if uc.Cleanup != nil {
		return uc.Cleanup(ctx, alias)
	}
	return uc.Keystore.DeleteKey(ctx, alias)
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
