package classifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/usecase"
)

// Fallback asks Primary first and answers from Secondary when Primary is
// missing or fails.
type Fallback struct {
	Primary   usecase.Classifier
	Secondary usecase.Classifier
	Logger    *slog.Logger
}

func (f Fallback) Classify(ctx context.Context, req usecase.ClassifyRequest) (domain.ClassifierVerdict, error) {
	if f.Primary != nil {
		verdict, err := f.Primary.Classify(ctx, req)
		if err == nil {
			return verdict, nil
		}
		if f.Secondary == nil {
			return domain.ClassifierVerdict{}, err
		}
		if f.Logger != nil {
			f.Logger.Warn("remote classifier failed; using local rules", "error", err)
		}
	}
	if f.Secondary == nil {
		return domain.ClassifierVerdict{}, errors.New("no classifier configured")
	}
	return f.Secondary.Classify(ctx, req)
}

// New returns the rules judge alone when endpoint is empty, otherwise the
// remote judge backed by the rules judge.
func New(endpoint string, timeout time.Duration, logger *slog.Logger) usecase.Classifier {
	if endpoint == "" {
		return Rules{}
	}
	return Fallback{Primary: NewRemote(endpoint, timeout), Secondary: Rules{}, Logger: logger}
}
