package lds

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"sort"

	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/tlv"

	"go.mozilla.org/pkcs7"
)

// HashEntry is one data group digest in the security object.
type HashEntry struct {
	ID   int
	Hash []byte
}

// LDSVersionInfo is present in LDS 1.8 security objects.
type LDSVersionInfo struct {
	LDSVersion     string `asn1:"printable"`
	UnicodeVersion string `asn1:"printable"`
}

// LDSSecurityObject is the signed content of EF.SOD.
type LDSSecurityObject struct {
	Version        int
	HashAlgorithm  pkix.AlgorithmIdentifier
	HashList       []HashEntry
	LDSVersionInfo LDSVersionInfo `asn1:"optional"`
}

var hashOIDs = []struct {
	oid  asn1.ObjectIdentifier
	hash crypto.Hash
}{
	{asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}, crypto.SHA1},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, crypto.SHA256},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}, crypto.SHA384},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}, crypto.SHA512},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}, crypto.SHA224},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 5}, crypto.SHA512_224},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 6}, crypto.SHA512_256},
}

func hashAlgorithmFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for _, h := range hashOIDs {
		if h.oid.Equal(oid) {
			return h.hash, h.hash.Available()
		}
	}
	return 0, false
}

// HashOID returns the object identifier of h as used in a security object.
func HashOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	for _, candidate := range hashOIDs {
		if candidate.hash == h {
			return candidate.oid, nil
		}
	}
	return nil, fmt.Errorf("unsupported hash %v", h)
}

// SOD is a parsed EF.SOD.
type SOD struct {
	Raw     []byte
	Content LDSSecurityObject
	Hash    crypto.Hash
	Signer  *x509.Certificate
}

// ParseSOD decodes EF.SOD (tag 77 around CMS SignedData) and checks the
// signature against the embedded document signer certificate.
func ParseSOD(raw []byte) (*SOD, error) {
	inner, err := tlv.Unwrap(raw, TagSOD)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "EF.SOD wrapper")
	}
	p7, err := pkcs7.Parse(inner)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "parsing EF.SOD signed data")
	}
	if err := p7.Verify(); err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "EF.SOD signature")
	}

	var content LDSSecurityObject
	if _, err := asn1.Unmarshal(p7.Content, &content); err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "decoding LDS security object")
	}
	hash, ok := hashAlgorithmFromOID(content.HashAlgorithm.Algorithm)
	if !ok {
		return nil, mrtderr.New(mrtderr.ReadIntegrityViolation,
			fmt.Sprintf("unsupported hash algorithm %s", content.HashAlgorithm.Algorithm))
	}

	return &SOD{
		Raw:     raw,
		Content: content,
		Hash:    hash,
		Signer:  p7.GetOnlySigner(),
	}, nil
}

// Digest returns the digest the SOD lists for id.
func (s *SOD) Digest(id DataGroupID) ([]byte, bool) {
	for _, e := range s.Content.HashList {
		if e.ID == int(id) {
			return e.Hash, true
		}
	}
	return nil, false
}

// DataGroups lists the groups the SOD covers, in order.
func (s *SOD) DataGroups() []DataGroupID {
	ids := make([]DataGroupID, 0, len(s.Content.HashList))
	for _, e := range s.Content.HashList {
		ids = append(ids, DataGroupID(e.ID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Verify recomputes the digest of every group and compares it with the SOD.
// A group the SOD does not list is a violation as well.
func (s *SOD) Verify(groups map[DataGroupID][]byte) error {
	ids := make([]DataGroupID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		want, ok := s.Digest(id)
		if !ok {
			return mrtderr.New(mrtderr.ReadIntegrityViolation, fmt.Sprintf("%s is not listed in EF.SOD", id))
		}
		h := s.Hash.New()
		h.Write(groups[id])
		if !bytes.Equal(h.Sum(nil), want) {
			return mrtderr.New(mrtderr.ReadIntegrityViolation, fmt.Sprintf("%s hash mismatch", id))
		}
	}
	return nil
}

// EncodeLDSSecurityObject builds the DER content of a security object over groups.
func EncodeLDSSecurityObject(hash crypto.Hash, groups map[DataGroupID][]byte) ([]byte, error) {
	oid, err := HashOID(hash)
	if err != nil {
		return nil, err
	}
	ids := make([]DataGroupID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	content := LDSSecurityObject{
		HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oid},
	}
	for _, id := range ids {
		h := hash.New()
		h.Write(groups[id])
		content.HashList = append(content.HashList, HashEntry{ID: int(id), Hash: h.Sum(nil)})
	}
	return asn1.Marshal(struct {
		Version       int
		HashAlgorithm pkix.AlgorithmIdentifier
		HashList      []HashEntry
	}{content.Version, content.HashAlgorithm, content.HashList})
}
