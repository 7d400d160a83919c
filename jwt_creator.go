package main

import (
	"crypto/rsa"
	"os"
	"time"

	"go-emrtd-connector/models"

	"github.com/golang-jwt/jwt/v4"
)

// ReceiptSigner turns validation facts into a signed receipt a relying party
// can check offline.
type ReceiptSigner interface {
	SignReceipt(claims models.ReceiptClaims) (jwt string, err error)
}

const receiptValidity = 24 * time.Hour

func NewReceiptSigner(privateKeyPath string, issuerId string) (*DefaultReceiptSigner, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)

	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)

	if err != nil {
		return nil, err
	}

	return NewReceiptSignerFromKey(privateKey, issuerId), nil
}

func NewReceiptSignerFromKey(privateKey *rsa.PrivateKey, issuerId string) *DefaultReceiptSigner {
	return &DefaultReceiptSigner{privateKey: privateKey, issuerId: issuerId, now: time.Now}
}

type DefaultReceiptSigner struct {
	privateKey *rsa.PrivateKey
	issuerId   string
	now        func() time.Time
}

// ReceiptJwtClaims is the payload of a receipt.
type ReceiptJwtClaims struct {
	jwt.RegisteredClaims
	models.ReceiptClaims
}

func (rs *DefaultReceiptSigner) SignReceipt(claims models.ReceiptClaims) (string, error) {
	now := rs.now()
	payload := ReceiptJwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    rs.issuerId,
			Subject:   claims.DocumentNumber,
			ID:        claims.SessionId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(receiptValidity)),
		},
		ReceiptClaims: claims,
	}
	if claims.ClientId != "" {
		payload.Audience = jwt.ClaimStrings{claims.ClientId}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, payload)
	return token.SignedString(rs.privateKey)
}

// ParseReceipt checks a receipt against the signer's public key.
func ParseReceipt(receipt string, publicKey *rsa.PublicKey) (*ReceiptJwtClaims, error) {
	claims := &ReceiptJwtClaims{}
	_, err := jwt.ParseWithClaims(receipt, claims, func(token *jwt.Token) (any, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
