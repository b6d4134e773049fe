package domain

type PolicyInput struct {
	Attestation PolicyAttestation `json:"attestation"`
	Payload     PolicyPayload     `json:"payload"`
	Config      PolicyConfig      `json:"config"`
}

type PolicyAttestation struct {
	Classification   string `json:"classification"`
	SecurityLevel    int    `json:"security_level"`
	ChainPresent     bool   `json:"chain_present"`
	ChainTrusted     bool   `json:"chain_trusted"`
	ChallengeMatches bool   `json:"challenge_matches"`
	RegisteredKey    bool   `json:"registered_key"`
}

type PolicyPayload struct {
	Schema string `json:"schema"`
	AppID  string `json:"app_id"`
}

type PolicyConfig struct {
	AcceptSoftware      bool   `json:"accept_software"`
	RequireTrustedChain bool   `json:"require_trusted_chain"`
	ExpectedAppID       string `json:"expected_app_id,omitempty"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id,omitempty"`
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
