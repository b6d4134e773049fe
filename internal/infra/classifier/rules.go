package classifier

import (
	"context"
	"math"

	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/provenance"
	"github.com/nictjh/originalCapture/internal/usecase"
)

const (
	LabelBenign     = "benign"
	LabelRisky      = "risky"
	LabelMisleading = "misleading"

	SourceRules = "rules"
)

// Rules scores an edit summary with fixed interpretable rules. It never
// looks at pixels; a capture without a manifest scores as benign.
type Rules struct{}

func (Rules) Classify(_ context.Context, req usecase.ClassifyRequest) (domain.ClassifierVerdict, error) {
	if req.Summary == nil {
		return domain.ClassifierVerdict{Label: LabelBenign, Reasons: []string{}, Source: SourceRules}, nil
	}
	points, reasons := RulePoints(*req.Summary)
	score := math.Min(1, 0.12*float64(points))
	score = math.Round(score*1000) / 1000
	return domain.ClassifierVerdict{
		Label:     LabelForScore(score),
		RiskScore: score,
		Reasons:   reasons,
		Source:    SourceRules,
	}, nil
}

// RulePoints returns the non-negative risk points for s and the reasons
// that contributed, in evaluation order.
func RulePoints(s provenance.Summary) (int, []string) {
	f := s.Features
	composed := s.ByBucket[provenance.BucketCompose] > 0
	points := 0
	reasons := []string{}

	if composed {
		points += 3
		reasons = append(reasons, "Has composition edits (splice/inpaint/bg replace)")
	}
	if f.TotalComposeAreaPct >= 10 || f.MaxComposeAreaPct >= 15 {
		points += 2
		reasons = append(reasons, "Large composed region")
	}
	if f.TotalComposeTimePct >= 25 {
		points += 2
		reasons = append(reasons, "Composition affects large portion of duration")
	}
	if f.TotalCropAreaPct > 60 {
		points++
		reasons = append(reasons, "Aggressive cropping")
	}
	if f.TotalAdjustMag > 120 {
		points++
		reasons = append(reasons, "Extreme global adjustments")
	}
	if !composed && f.TotalBlurAreaPct > 0 {
		points--
		reasons = append(reasons, "Privacy blur detected (no composition)")
	}
	if s.C2PAPresent && s.Signed {
		points--
		reasons = append(reasons, "Signed provenance present")
	}
	if points < 0 {
		points = 0
	}
	return points, reasons
}

func LabelForScore(score float64) string {
	switch {
	case score >= 0.7:
		return LabelMisleading
	case score >= 0.4:
		return LabelRisky
	default:
		return LabelBenign
	}
}
