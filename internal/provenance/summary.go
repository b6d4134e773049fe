package provenance

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nictjh/originalCapture/internal/domain"
)

// ParseManifest decodes a submitted manifest. Unknown top-level fields are
// tolerated; unknown buckets are not.
func ParseManifest(raw []byte) (Manifest, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Manifest{}, fmt.Errorf("%w: empty manifest", domain.ErrInvalidManifest)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", domain.ErrInvalidManifest, err)
	}
	for i, op := range m.Ops {
		if err := op.Validate(); err != nil {
			return Manifest{}, fmt.Errorf("%w: op %d: %v", domain.ErrInvalidManifest, i, err)
		}
	}
	return m, nil
}

// Features are the magnitudes the edit judge scores.
type Features struct {
	TotalCropAreaPct    float64 `json:"total_crop_area_pct"`
	TotalAdjustMag      float64 `json:"total_adjust_mag"`
	TotalBlurAreaPct    float64 `json:"total_blur_area_pct"`
	TotalBlurTimePct    float64 `json:"total_blur_time_pct"`
	TotalComposeAreaPct float64 `json:"total_compose_area_pct"`
	TotalComposeTimePct float64 `json:"total_compose_time_pct"`
	MaxComposeAreaPct   float64 `json:"max_compose_area_pct"`
	OverlayAfterCompose bool    `json:"overlay_after_compose"`
}

// Summary is the server-side re-derivation of a manifest's active edits.
type Summary struct {
	ActionsCount         int            `json:"actions_count"`
	DeclaredActionsCount int            `json:"declared_actions_count"`
	Consistent           bool           `json:"consistent"`
	ByBucket             map[Bucket]int `json:"by_bucket"`
	HighRiskCount        int            `json:"high_risk_count"`
	RiskLevel            RiskLevel      `json:"risk_level"`
	C2PAPresent          bool           `json:"c2pa_present"`
	Signed               bool           `json:"signed"`
	Features             Features       `json:"features"`
}

func Summarize(m Manifest) Summary {
	counts := countBuckets(m.Ops)
	high := highRiskCount(counts)
	return Summary{
		ActionsCount:         len(m.Ops),
		DeclaredActionsCount: m.Provenance.ActionsCount,
		Consistent:           m.Provenance.ActionsCount == len(m.Ops),
		ByBucket:             counts,
		HighRiskCount:        high,
		RiskLevel:            riskLevel(len(m.Ops), high),
		C2PAPresent:          m.Provenance.C2PAPresent,
		Signed:               m.Provenance.Signed,
		Features:             Featurize(m),
	}
}

func Featurize(m Manifest) Features {
	var f Features
	imageArea := 0.0
	if m.Meta.Width > 0 && m.Meta.Height > 0 {
		imageArea = float64(m.Meta.Width) * float64(m.Meta.Height)
	}
	var last Bucket
	for _, op := range m.Ops {
		switch op.Bucket {
		case BucketTransform:
			if t := op.Transform; t != nil && len(t.Crop) == 4 && imageArea > 0 {
				w, h := t.Crop[2], t.Crop[3]
				if w > 0 && h > 0 {
					f.TotalCropAreaPct += 100 * float64(w) * float64(h) / imageArea
				}
			}
		case BucketAdjust:
			if a := op.Adjust; a != nil {
				f.TotalAdjustMag += abs(a.Brightness) + abs(a.Contrast) + abs(a.Saturation)
			}
		case BucketPrivacyBlur:
			if b := op.Blur; b != nil {
				f.TotalBlurAreaPct += area(b.AreaPctAvg, b.AreaPct)
				f.TotalBlurTimePct += clampPct(b.TimePct)
			}
		case BucketCompose:
			if c := op.Compose; c != nil {
				a := area(c.AreaPctAvg, c.AreaPct)
				f.TotalComposeAreaPct += a
				f.TotalComposeTimePct += clampPct(c.TimePct)
				if a > f.MaxComposeAreaPct {
					f.MaxComposeAreaPct = a
				}
			}
		case BucketOverlay:
			if last == BucketCompose {
				f.OverlayAfterCompose = true
			}
		}
		last = op.Bucket
	}
	return f
}

// area prefers the video-averaged coverage when present.
func area(avg, single float64) float64 {
	if avg != 0 {
		return avg
	}
	return single
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
