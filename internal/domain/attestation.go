package domain

import "strings"

type SecurityTier string

const (
	TierStrongBox SecurityTier = "strongbox"
	TierTEE       SecurityTier = "tee"
)

type Classification string

const (
	ClassificationStrongBox       Classification = "STRONGBOX"
	ClassificationTEE             Classification = "TEE_HARDWARE"
	ClassificationHardwareNoChain Classification = "HARDWARE_NO_CHAIN"
	ClassificationSoftware        Classification = "SOFTWARE"
	ClassificationNone            Classification = "NONE"
)

// Android KeyDescription attestationSecurityLevel values.
const (
	SecurityLevelSoftware           = 0
	SecurityLevelTrustedEnvironment = 1
	SecurityLevelStrongBox          = 2
)

func ParseClassification(value string) (Classification, bool) {
	switch c := Classification(strings.ToUpper(strings.TrimSpace(value))); c {
	case ClassificationStrongBox, ClassificationTEE, ClassificationHardwareNoChain, ClassificationSoftware, ClassificationNone:
		return c, true
	default:
		return "", false
	}
}

// HardwareBacked reports whether the classification implies key material
// that never left secure hardware.
func (c Classification) HardwareBacked() bool {
	switch c {
	case ClassificationStrongBox, ClassificationTEE, ClassificationHardwareNoChain:
		return true
	default:
		return false
	}
}

// SecurityLevel maps a classification onto the KeyDescription scale.
func (c Classification) SecurityLevel() int {
	switch c {
	case ClassificationStrongBox:
		return SecurityLevelStrongBox
	case ClassificationTEE, ClassificationHardwareNoChain:
		return SecurityLevelTrustedEnvironment
	default:
		return SecurityLevelSoftware
	}
}

// AttestationResult is the outcome of generating one attested key. Callers
// must read AchievedTier and Classification rather than assume the
// requested tier was honoured.
type AttestationResult struct {
	Alias                string
	RequestedTier        SecurityTier
	AchievedTier         SecurityTier
	FellBack             bool
	Classification       Classification
	CertChain            [][]byte
	InsideSecureHardware *bool
	Summary              string
}

// KeyDescription is the subset of the Android attestation extension the
// verifier relies on.
type KeyDescription struct {
	AttestationVersion       int64
	AttestationSecurityLevel int
	KeymasterVersion         int64
	KeymasterSecurityLevel   int
	AttestationChallenge     []byte
	UniqueID                 []byte
}
