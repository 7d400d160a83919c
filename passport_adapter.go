package main

import (
	"go-emrtd-connector/document/passport"
	"go-emrtd-connector/models"

	"github.com/gmrtd/gmrtd/cms"
)

// abstract interfaces for easier testing

type PassportVerifier interface {
	Verify(req models.ValidationRequest, challenge []byte, pool cms.CertPool) (*passport.Checks, error)
}

// Production implementations

type passportVerifierImpl struct{}

func (passportVerifierImpl) Verify(req models.ValidationRequest, challenge []byte, pool cms.CertPool) (*passport.Checks, error) {
	return passport.Verify(req, challenge, pool)
}
