package usecase

import (
	"sort"
	"strings"

	"github.com/nictjh/originalCapture/internal/domain"
)

type FuseInput struct {
	Policy                 domain.PolicyResult
	Classifier             *domain.ClassifierVerdict
	ManifestSignatureValid *bool
	ManifestConsistent     *bool
}

type FuseResult struct {
	OK      bool
	Verdict string
	Message string
	Reasons []string
}

// Fuse combines the hardware and classifier signals. A policy denial makes
// the capture not authentic whatever the classifier says; otherwise the
// classifier label stands.
func Fuse(input FuseInput) FuseResult {
	reasons := make(map[string]struct{})
	addReason(reasons, policyReasons(input.Policy)...)
	if input.ManifestSignatureValid != nil && !*input.ManifestSignatureValid {
		addReason(reasons, "MANIFEST_SIGNATURE_INVALID")
	}
	if input.ManifestConsistent != nil && !*input.ManifestConsistent {
		addReason(reasons, "MANIFEST_ACTIONS_COUNT_MISMATCH")
	}
	ordered := sortedReasons(reasons)

	if !input.Policy.Allow {
		return FuseResult{
			OK:      false,
			Verdict: domain.VerdictNotAuthentic,
			Message: "policy failed: " + strings.Join(policyReasons(input.Policy), ", "),
			Reasons: ordered,
		}
	}
	verdict := domain.VerdictUnclassified
	if input.Classifier != nil && input.Classifier.Label != "" {
		verdict = input.Classifier.Label
	}
	return FuseResult{OK: true, Verdict: verdict, Message: "verified", Reasons: ordered}
}

func policyReasons(policy domain.PolicyResult) []string {
	reasons := make([]string, 0, len(policy.Deny))
	for _, deny := range policy.Deny {
		if deny.Code != "" {
			reasons = append(reasons, deny.Code)
		}
	}
	if !policy.Allow && len(reasons) == 0 {
		reasons = append(reasons, "POLICY_DENIED")
	}
	return reasons
}

func addReason(reasons map[string]struct{}, values ...string) {
	for _, value := range values {
		if value == "" {
			continue
		}
		reasons[value] = struct{}{}
	}
}

func sortedReasons(reasons map[string]struct{}) []string {
	out := make([]string, 0, len(reasons))
	for reason := range reasons {
		out = append(out, reason)
	}
	sort.Strings(out)
	return out
}
