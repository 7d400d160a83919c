package models

import "time"

// ReceiptClaims are the facts a validation receipt attests to.
type ReceiptClaims struct {
	SessionId        string    `json:"session_id"`
	ClientId         string    `json:"client_id"`
	ValidationId     string    `json:"validation_id,omitempty"`
	DocumentNumber   string    `json:"document_number"`
	DocumentType     string    `json:"document_type"`
	Nationality      string    `json:"nationality"`
	Country          string    `json:"country"`
	DateOfExpiry     time.Time `json:"date_of_expiry"`
	AuthenticContent bool      `json:"authentic_content"`
	AuthenticChip    bool      `json:"authentic_chip"`
	TrustedIssuer    bool      `json:"trusted_issuer"`
}
