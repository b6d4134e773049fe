package soft

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	infracrypto "github.com/nictjh/originalCapture/internal/infra/crypto"

	"github.com/google/uuid"
)

// Profile selects which hardware the emulated device pretends to have.
type Profile string

const (
	ProfileStrongBox Profile = "strongbox"
	ProfileTEE       Profile = "tee"
	ProfileSoftware  Profile = "software"
	ProfileNone      Profile = "none"
)

const (
	attestationVersion = 4
	keymasterVersion   = 41
)

func ParseProfile(value string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(value))); p {
	case ProfileStrongBox, ProfileTEE, ProfileSoftware, ProfileNone:
		return p, nil
	case "":
		return ProfileStrongBox, nil
	default:
		return "", fmt.Errorf("unknown keystore profile %q", value)
	}
}

type Options struct {
	Profile Profile
	// WithoutChain emulates devices that generate keys but cannot return an
	// attestation chain.
	WithoutChain bool
	// ResidencyUnknown makes InsideSecureHardware report nil.
	ResidencyUnknown bool
	Now              func() time.Time
}

// Manager is an in-process Keystore backed by an emulated attestation
// authority. It behaves like the device keystore for one profile.
type Manager struct {
	authority *Authority
	opts      Options

	mu   sync.Mutex
	keys map[string]*keyEntry
}

type keyEntry struct {
	priv  *ecdsa.PrivateKey
	tier  domain.SecurityTier
	chain [][]byte
}

func NewManager(authority *Authority, opts Options) *Manager {
	if opts.Profile == "" {
		opts.Profile = ProfileStrongBox
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{authority: authority, opts: opts, keys: make(map[string]*keyEntry)}
}

func (m *Manager) Profile() Profile {
	return m.opts.Profile
}

func (m *Manager) GenerateKey(ctx context.Context, alias string, challenge []byte, tier domain.SecurityTier) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAlias(alias); err != nil {
		return err
	}
	if !m.supports(tier) {
		return fmt.Errorf("%w: %s", domain.ErrTierUnavailable, tier)
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	entry := &keyEntry{priv: priv, tier: tier}
	if !m.opts.WithoutChain && m.authority != nil {
		desc, err := infracrypto.MarshalKeyDescription(domain.KeyDescription{
			AttestationVersion:       attestationVersion,
			AttestationSecurityLevel: m.securityLevel(tier),
			KeymasterVersion:         keymasterVersion,
			KeymasterSecurityLevel:   m.securityLevel(tier),
			AttestationChallenge:     append([]byte(nil), challenge...),
			UniqueID:                 []byte{},
		})
		if err != nil {
			return fmt.Errorf("encode key description: %w", err)
		}
		chain, err := m.authority.issueLeaf(&priv.PublicKey, intermediateFor(m.opts.Profile, tier), desc, m.opts.Now())
		if err != nil {
			return err
		}
		entry.chain = chain
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[alias]; exists {
		return fmt.Errorf("key alias %q already exists", alias)
	}
	m.keys[alias] = entry
	return nil
}

func (m *Manager) CertificateChain(_ context.Context, alias string) ([][]byte, error) {
	entry, err := m.lookup(alias)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(entry.chain))
	for _, der := range entry.chain {
		out = append(out, append([]byte(nil), der...))
	}
	return out, nil
}

func (m *Manager) InsideSecureHardware(_ context.Context, alias string) (*bool, error) {
	if _, err := m.lookup(alias); err != nil {
		return nil, err
	}
	if m.opts.ResidencyUnknown {
		return nil, nil
	}
	inside := m.opts.Profile == ProfileStrongBox || m.opts.Profile == ProfileTEE
	return &inside, nil
}

func (m *Manager) Sign(_ context.Context, alias string, payload []byte) ([]byte, error) {
	entry, err := m.lookup(alias)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	return ecdsa.SignASN1(rand.Reader, entry.priv, digest[:])
}

func (m *Manager) PublicKey(_ context.Context, alias string) (crypto.PublicKey, error) {
	entry, err := m.lookup(alias)
	if err != nil {
		return nil, err
	}
	return &entry.priv.PublicKey, nil
}

func (m *Manager) DeleteKey(_ context.Context, alias string) error {
	if err := validateAlias(alias); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, alias)
	return nil
}

func (m *Manager) Contains(_ context.Context, alias string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[alias]
	return ok, nil
}

func (m *Manager) lookup(alias string) (*keyEntry, error) {
	if err := validateAlias(alias); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.keys[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, alias)
	}
	return entry, nil
}

func (m *Manager) supports(tier domain.SecurityTier) bool {
	switch m.opts.Profile {
	case ProfileStrongBox:
		return tier == domain.TierStrongBox || tier == domain.TierTEE
	case ProfileTEE, ProfileSoftware:
		return tier == domain.TierTEE
	default:
		return false
	}
}

func (m *Manager) securityLevel(tier domain.SecurityTier) int {
	switch {
	case m.opts.Profile == ProfileSoftware:
		return domain.SecurityLevelSoftware
	case tier == domain.TierStrongBox:
		return domain.SecurityLevelStrongBox
	default:
		return domain.SecurityLevelTrustedEnvironment
	}
}

// NewAlias returns a fresh per-capture key alias.
func NewAlias() string {
	return "capture-" + uuid.NewString()
}

func validateAlias(alias string) error {
	if strings.TrimSpace(alias) == "" {
		return fmt.Errorf("%w: key alias is required", domain.ErrInvalidRequest)
	}
	return nil
}
