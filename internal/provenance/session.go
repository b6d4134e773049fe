package provenance

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MediaMeta struct {
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	DurationMs *int64   `json:"duration_ms,omitempty"`
	Format     string   `json:"format"`
	FrameRate  *float64 `json:"frame_rate,omitempty"`
}

type ExportInfo struct {
	Format  string `json:"fmt"`
	Quality *int   `json:"quality,omitempty"`
	Bitrate *int   `json:"bitrate,omitempty"`
}

type ProvenanceInfo struct {
	C2PAPresent  bool `json:"c2pa_present"`
	Signed       bool `json:"signed"`
	ActionsCount int  `json:"actions_count"`
}

// Manifest is the provenance projection of a session.
type Manifest struct {
	AssetID    string         `json:"asset_id"`
	CreatedAt  string         `json:"created_at"`
	Meta       MediaMeta      `json:"meta"`
	Provenance ProvenanceInfo `json:"provenance"`
	Ops        []Operation    `json:"ops"`
	Export     *ExportInfo    `json:"export,omitempty"`
}

type SessionOption func(*Session)

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAssetID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.assetID = id
		}
	}
}

// WithSigned marks the asset as carrying a signed capture receipt.
func WithSigned(signed bool) SessionOption {
	return func(s *Session) {
		s.signed = signed
	}
}

// Session is the handle for one asset's edit history. Callers keep the
// pointer; there is no registry.
type Session struct {
	ID string

	chain     *Chain
	now       func() time.Time
	assetID   string
	createdAt time.Time

	mu     sync.RWMutex
	meta   MediaMeta
	signed bool
	export *ExportInfo
}

func NewSession(meta MediaMeta, opts ...SessionOption) *Session {
	s := &Session{
		ID:    uuid.NewString(),
		chain: NewChain(),
		now:   time.Now,
		meta:  meta,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assetID == "" {
		s.assetID = uuid.NewString()
	}
	s.createdAt = s.now().UTC()
	return s
}

func (s *Session) AssetID() string {
	return s.assetID
}

// Apply stamps op with the session clock when it has no timestamp.
func (s *Session) Apply(op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = s.now().UTC()
	}
	s.chain.Apply(op)
	return nil
}

func (s *Session) Undo() (Operation, bool) {
	return s.chain.Undo()
}

func (s *Session) Redo() (Operation, bool) {
	return s.chain.Redo()
}

func (s *Session) Clear() {
	s.chain.Clear()
}

func (s *Session) ActiveOperations() []Operation {
	return s.chain.Active()
}

func (s *Session) CurrentIndex() int {
	return s.chain.CurrentIndex()
}

func (s *Session) Statistics() Statistics {
	return s.chain.Statistics()
}

func (s *Session) SetExport(export ExportInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.export = &export
}

func (s *Session) SetSigned(signed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signed = signed
}

// Manifest projects the current state. It does not mutate the session and
// returns equal values for an unchanged session.
func (s *Session) Manifest() Manifest {
	snap := s.chain.Snapshot()
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := snap.Active()
	ops := make([]Operation, len(active))
	copy(ops, active)
	m := Manifest{
		AssetID:   s.assetID,
		CreatedAt: s.createdAt.Format(time.RFC3339Nano),
		Meta:      s.meta,
		Provenance: ProvenanceInfo{
			C2PAPresent:  true,
			Signed:       s.signed,
			ActionsCount: len(ops),
		},
		Ops: ops,
	}
	if s.export != nil {
		export := *s.export
		m.Export = &export
	}
	return m
}

func (s *Session) ManifestJSON() ([]byte, error) {
	return json.Marshal(s.Manifest())
}

// Restore rebuilds a session from a manifest. The restored chain has no redo
// history.
func Restore(m Manifest, opts ...SessionOption) (*Session, error) {
	if m.AssetID == "" {
		return nil, errors.New("manifest asset_id is required")
	}
	s := NewSession(m.Meta, append([]SessionOption{WithAssetID(m.AssetID), WithSigned(m.Provenance.Signed)}, opts...)...)
	if created, err := time.Parse(time.RFC3339Nano, m.CreatedAt); err == nil {
		s.createdAt = created.UTC()
	}
	for _, op := range m.Ops {
		if err := s.Apply(op); err != nil {
			return nil, err
		}
	}
	if m.Export != nil {
		s.SetExport(*m.Export)
	}
	return s, nil
}
