package provenance

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bucket is the discriminant of an Operation.
type Bucket string

const (
	BucketTransform   Bucket = "transform"
	BucketAdjust      Bucket = "adjust"
	BucketFilter      Bucket = "filter"
	BucketOverlay     Bucket = "overlay"
	BucketPrivacyBlur Bucket = "privacy_blur"
	BucketCompose     Bucket = "compose"
)

// Buckets lists every bucket in manifest order.
var Buckets = []Bucket{BucketTransform, BucketAdjust, BucketFilter, BucketOverlay, BucketPrivacyBlur, BucketCompose}

type RiskWeight int

const (
	RiskWeightLow RiskWeight = iota + 1
	RiskWeightMedium
	RiskWeightHigh
)

// RiskWeightOf is the only place a bucket is mapped to risk. Compose edits
// (splice, inpaint, background replace, face swap) are high risk.
func RiskWeightOf(b Bucket) RiskWeight {
	switch b {
	case BucketCompose:
		return RiskWeightHigh
	case BucketOverlay:
		return RiskWeightMedium
	default:
		return RiskWeightLow
	}
}

func ParseBucket(value string) (Bucket, error) {
	for _, b := range Buckets {
		if string(b) == value {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown operation bucket %q", value)
}

// Operation is one edit. Exactly one of the parameter pointers is set and it
// matches Bucket.
type Operation struct {
	Bucket    Bucket
	Timestamp time.Time

	Transform *TransformParams
	Adjust    *AdjustParams
	Filter    *FilterParams
	Overlay   *OverlayParams
	Blur      *BlurParams
	Compose   *ComposeParams
}

type TransformParams struct {
	Kind    string `json:"kind"`
	Crop    []int  `json:"crop,omitempty"`
	Degrees int    `json:"degrees,omitempty"`
	Axis    string `json:"axis,omitempty"`
	StartMs int64  `json:"start_ms,omitempty"`
	EndMs   int64  `json:"end_ms,omitempty"`
}

type AdjustParams struct {
	Brightness float64 `json:"brightness,omitempty"`
	Contrast   float64 `json:"contrast,omitempty"`
	Saturation float64 `json:"saturation,omitempty"`
}

type FilterParams struct {
	Name      string  `json:"name"`
	Intensity float64 `json:"intensity,omitempty"`
}

type OverlayParams struct {
	Kind      string  `json:"kind"`
	Text      string  `json:"text,omitempty"`
	StickerID string  `json:"sticker_id,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	AreaPct   float64 `json:"area_pct,omitempty"`
}

type BlurParams struct {
	Method     string  `json:"method,omitempty"`
	Regions    int     `json:"regions,omitempty"`
	AreaPct    float64 `json:"area_pct,omitempty"`
	AreaPctAvg float64 `json:"area_pct_avg,omitempty"`
	TimePct    float64 `json:"time_pct,omitempty"`
}

type ComposeParams struct {
	Kind       string  `json:"kind"`
	AreaPct    float64 `json:"area_pct,omitempty"`
	AreaPctAvg float64 `json:"area_pct_avg,omitempty"`
	TimePct    float64 `json:"time_pct,omitempty"`
}

func Crop(x, y, width, height int) Operation {
	return Operation{Bucket: BucketTransform, Transform: &TransformParams{Kind: "crop", Crop: []int{x, y, width, height}}}
}

func Rotate(degrees int) Operation {
	return Operation{Bucket: BucketTransform, Transform: &TransformParams{Kind: "rotate", Degrees: degrees}}
}

func Flip(axis string) Operation {
	return Operation{Bucket: BucketTransform, Transform: &TransformParams{Kind: "flip", Axis: axis}}
}

func Trim(startMs, endMs int64) Operation {
	return Operation{Bucket: BucketTransform, Transform: &TransformParams{Kind: "trim", StartMs: startMs, EndMs: endMs}}
}

func Brightness(delta float64) Operation {
	return Operation{Bucket: BucketAdjust, Adjust: &AdjustParams{Brightness: delta}}
}

func Contrast(delta float64) Operation {
	return Operation{Bucket: BucketAdjust, Adjust: &AdjustParams{Contrast: delta}}
}

func Saturation(delta float64) Operation {
	return Operation{Bucket: BucketAdjust, Adjust: &AdjustParams{Saturation: delta}}
}

func Filter(name string, intensity float64) Operation {
	return Operation{Bucket: BucketFilter, Filter: &FilterParams{Name: name, Intensity: intensity}}
}

func TextOverlay(text string, x, y float64) Operation {
	return Operation{Bucket: BucketOverlay, Overlay: &OverlayParams{Kind: "text", Text: text, X: x, Y: y}}
}

func StickerOverlay(stickerID string, x, y, areaPct float64) Operation {
	return Operation{Bucket: BucketOverlay, Overlay: &OverlayParams{Kind: "sticker", StickerID: stickerID, X: x, Y: y, AreaPct: areaPct}}
}

func PrivacyBlur(method string, regions int, areaPct float64) Operation {
	return Operation{Bucket: BucketPrivacyBlur, Blur: &BlurParams{Method: method, Regions: regions, AreaPct: areaPct}}
}

// Compose records a splice, inpaint, background replacement or face swap.
func Compose(kind string, areaPct, timePct float64) Operation {
	return Operation{Bucket: BucketCompose, Compose: &ComposeParams{Kind: kind, AreaPct: areaPct, TimePct: timePct}}
}

// Validate reports whether the parameter payload matches the bucket.
func (op Operation) Validate() error {
	set := 0
	for _, p := range []bool{op.Transform != nil, op.Adjust != nil, op.Filter != nil, op.Overlay != nil, op.Blur != nil, op.Compose != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("operation must carry exactly one parameter set, got %d", set)
	}
	if op.params() == nil {
		return fmt.Errorf("parameters do not match bucket %q", op.Bucket)
	}
	return nil
}

func (op Operation) params() any {
	switch op.Bucket {
	case BucketTransform:
		if op.Transform != nil {
			return op.Transform
		}
	case BucketAdjust:
		if op.Adjust != nil {
			return op.Adjust
		}
	case BucketFilter:
		if op.Filter != nil {
			return op.Filter
		}
	case BucketOverlay:
		if op.Overlay != nil {
			return op.Overlay
		}
	case BucketPrivacyBlur:
		if op.Blur != nil {
			return op.Blur
		}
	case BucketCompose:
		if op.Compose != nil {
			return op.Compose
		}
	}
	return nil
}

// clone copies the parameter payload so snapshots do not share slices.
func (op Operation) clone() Operation {
	out := op
	if op.Transform != nil {
		t := *op.Transform
		t.Crop = append([]int(nil), op.Transform.Crop...)
		out.Transform = &t
	}
	if op.Adjust != nil {
		a := *op.Adjust
		out.Adjust = &a
	}
	if op.Filter != nil {
		f := *op.Filter
		out.Filter = &f
	}
	if op.Overlay != nil {
		o := *op.Overlay
		out.Overlay = &o
	}
	if op.Blur != nil {
		b := *op.Blur
		out.Blur = &b
	}
	if op.Compose != nil {
		c := *op.Compose
		out.Compose = &c
	}
	return out
}

type wireOperation struct {
	T         Bucket          `json:"t"`
	Timestamp int64           `json:"timestamp"`
	P         json.RawMessage `json:"p"`
}

func (op Operation) MarshalJSON() ([]byte, error) {
	params := op.params()
	if params == nil {
		return nil, fmt.Errorf("operation %q has no parameters", op.Bucket)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireOperation{T: op.Bucket, Timestamp: op.Timestamp.UnixMilli(), P: raw})
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	var wire wireOperation
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	bucket, err := ParseBucket(string(wire.T))
	if err != nil {
		return err
	}
	out := Operation{Bucket: bucket}
	if wire.Timestamp != 0 {
		out.Timestamp = time.UnixMilli(wire.Timestamp).UTC()
	}
	var target any
	switch bucket {
	case BucketTransform:
		out.Transform = &TransformParams{}
		target = out.Transform
	case BucketAdjust:
		out.Adjust = &AdjustParams{}
		target = out.Adjust
	case BucketFilter:
		out.Filter = &FilterParams{}
		target = out.Filter
	case BucketOverlay:
		out.Overlay = &OverlayParams{}
		target = out.Overlay
	case BucketPrivacyBlur:
		out.Blur = &BlurParams{}
		target = out.Blur
	case BucketCompose:
		out.Compose = &ComposeParams{}
		target = out.Compose
	}
	if len(wire.P) > 0 && string(wire.P) != "null" {
		if err := json.Unmarshal(wire.P, target); err != nil {
			return fmt.Errorf("operation %q parameters: %w", bucket, err)
		}
	}
	*op = out
	return nil
}
