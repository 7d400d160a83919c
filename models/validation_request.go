package models

// ValidationRequest carries the chip content to the validation backend.
// Hex strings throughout.
type ValidationRequest struct {
	SessionId           string            `json:"session_id"`
	Nonce               string            `json:"nonce"`
	DataGroups          map[string]string `json:"data_groups"`
	EFSOD               string            `json:"EF_SOD"`
	ActiveAuthSignature string            `json:"active_auth_signature,omitempty"`
	AuthMethod          string            `json:"auth_method,omitempty"`
	ChipAuthentication  bool              `json:"chip_authentication,omitempty"`
}

// Verdict is the backend's assessment of a ValidationRequest.
type Verdict struct {
	AuthenticContent bool   `json:"authentic_content"`
	AuthenticChip    bool   `json:"authentic_chip"`
	TrustedIssuer    bool   `json:"trusted_issuer"`
	IsExpired        bool   `json:"is_expired"`
	Receipt          string `json:"receipt,omitempty"`
}
