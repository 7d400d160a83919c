package lds

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	gmrtd "github.com/gmrtd/gmrtd/document"
)

// Protocol object identifiers from ICAO 9303 part 11 and BSI TR-03110.
var (
	OIDPACE     = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 4}
	OIDPACEECDH = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 4, 2}
	OIDCA       = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 3}
	OIDCAECDH   = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 3, 2}
	OIDPKECDH   = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 1, 2}
	OIDAA       = asn1.ObjectIdentifier{2, 23, 136, 1, 1, 5}

	OIDPACEECDHGMAES128 = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 4, 2, 2}
	OIDCAECDH3DES       = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 3, 2, 1}
	OIDCAECDHAES128     = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 3, 2, 2}
)

// Standardized PACE domain parameter identifiers.
const (
	ParamNISTP256        = 12
	ParamBrainpoolP256r1 = 13
)

type PACEInfo struct {
	Protocol    asn1.ObjectIdentifier
	Version     int
	ParameterID int
}

type ChipAuthenticationInfo struct {
	Protocol asn1.ObjectIdentifier
	Version  int
	KeyID    int
	HasKeyID bool
}

// ChipAuthenticationPublicKeyInfo carries the chip's static key agreement key.
type ChipAuthenticationPublicKeyInfo struct {
	Protocol asn1.ObjectIdentifier
	// PublicKey is the DER SubjectPublicKeyInfo.
	PublicKey []byte
	KeyID     int
	HasKeyID  bool
}

type ActiveAuthenticationInfo struct {
	Protocol           asn1.ObjectIdentifier
	Version            int
	SignatureAlgorithm asn1.ObjectIdentifier
}

// SecurityInfos is a decoded EF.CardAccess or DG14.
type SecurityInfos struct {
	PACE                   []PACEInfo
	ChipAuthentication     []ChipAuthenticationInfo
	ChipAuthenticationKeys []ChipAuthenticationPublicKeyInfo
	ActiveAuthentication   []ActiveAuthenticationInfo
	// Unknown holds the DER of every entry this client does not act on.
	Unknown [][]byte
}

func hasPrefix(oid, prefix asn1.ObjectIdentifier) bool {
	return len(oid) > len(prefix) && oid[:len(prefix)].Equal(prefix)
}

func keyID(n *big.Int) (int, bool) {
	if n == nil || !n.IsInt64() {
		return 0, false
	}
	return int(n.Int64()), true
}

func fromGmrtd(in *gmrtd.SecurityInfos) (*SecurityInfos, error) {
	out := &SecurityInfos{}
	for _, p := range in.PaceInfos {
		id, _ := keyID(p.ParameterId)
		out.PACE = append(out.PACE, PACEInfo{Protocol: p.Protocol, Version: p.Version, ParameterID: id})
	}
	for _, ca := range in.ChipAuthInfos {
		info := ChipAuthenticationInfo{Protocol: ca.Protocol, Version: ca.Version}
		info.KeyID, info.HasKeyID = keyID(ca.KeyId)
		out.ChipAuthentication = append(out.ChipAuthentication, info)
	}
	for _, pk := range in.ChipAuthPubKeyInfos {
		spki, err := asn1.Marshal(pk.ChipAuthenticationPublicKey)
		if err != nil {
			return nil, fmt.Errorf("ChipAuthenticationPublicKeyInfo: %w", err)
		}
		info := ChipAuthenticationPublicKeyInfo{Protocol: pk.Protocol, PublicKey: spki}
		info.KeyID, info.HasKeyID = keyID(pk.KeyId)
		out.ChipAuthenticationKeys = append(out.ChipAuthenticationKeys, info)
	}
	for _, aa := range in.ActiveAuthInfos {
		out.ActiveAuthentication = append(out.ActiveAuthentication, ActiveAuthenticationInfo{
			Protocol:           aa.Protocol,
			Version:            aa.Version,
			SignatureAlgorithm: aa.SignatureAlgorithm,
		})
	}
	for _, d := range in.PaceDomainParamInfos {
		out.Unknown = append(out.Unknown, d.Raw)
	}
	for _, ta := range in.TermAuthInfos {
		out.Unknown = append(out.Unknown, ta.Raw)
	}
	for _, ef := range in.EfDirInfos {
		out.Unknown = append(out.Unknown, ef.Raw)
	}
	for _, u := range in.UnhandledInfos {
		out.Unknown = append(out.Unknown, u.Raw)
	}
	return out, nil
}

// ParseSecurityInfos decodes a DER SET OF SecurityInfo, the content of
// EF.CardAccess.
func ParseSecurityInfos(der []byte) (*SecurityInfos, error) {
	ca, err := gmrtd.NewCardAccess(der)
	if err != nil {
		return nil, fmt.Errorf("decoding SecurityInfos: %w", err)
	}
	if ca == nil {
		return nil, errors.New("decoding SecurityInfos: empty")
	}
	return fromGmrtd(ca.SecurityInfos)
}

// ParseDG14 decodes DG14 (tag 6E around SecurityInfos).
func ParseDG14(b []byte) (*SecurityInfos, error) {
	dg14, err := gmrtd.NewDG14(b)
	if err != nil {
		return nil, fmt.Errorf("DG14: %w", err)
	}
	if dg14 == nil {
		return nil, errors.New("DG14: empty")
	}
	return fromGmrtd(dg14.SecInfos)
}

// SupportedPACE returns the first PACE entry this client can run.
func (s *SecurityInfos) SupportedPACE() (PACEInfo, bool) {
	for _, p := range s.PACE {
		if !hasPrefix(p.Protocol, OIDPACEECDH) || p.Protocol[len(p.Protocol)-1] < 2 || p.Protocol[len(p.Protocol)-1] > 4 {
			continue
		}
		if p.ParameterID == ParamNISTP256 || p.ParameterID == ParamBrainpoolP256r1 {
			return p, true
		}
	}
	return PACEInfo{}, false
}

// SupportedChipAuthentication pairs a chip authentication protocol with the
// public key it applies to.
func (s *SecurityInfos) SupportedChipAuthentication() (ChipAuthenticationInfo, ChipAuthenticationPublicKeyInfo, bool) {
	for _, ca := range s.ChipAuthentication {
		if !ca.Protocol.Equal(OIDCAECDHAES128) && !ca.Protocol.Equal(OIDCAECDH3DES) {
			continue
		}
		for _, pk := range s.ChipAuthenticationKeys {
			if !pk.Protocol.Equal(OIDPKECDH) {
				continue
			}
			if ca.HasKeyID && pk.HasKeyID && ca.KeyID != pk.KeyID {
				continue
			}
			return ca, pk, true
		}
	}
	return ChipAuthenticationInfo{}, ChipAuthenticationPublicKeyInfo{}, false
}

// securityInfo is the generic element of a SecurityInfos set.
type securityInfo struct {
	Protocol asn1.ObjectIdentifier
	Required asn1.RawValue
	Optional asn1.RawValue `asn1:"optional"`
}

func mustRaw(v any) asn1.RawValue {
	b, err := asn1.Marshal(v)
	if err != nil {
		panic(err)
	}
	return asn1.RawValue{FullBytes: b}
}

// Marshal encodes the infos as a DER SET OF SecurityInfo.
func (s *SecurityInfos) Marshal() ([]byte, error) {
	var infos []securityInfo
	for _, p := range s.PACE {
		info := securityInfo{Protocol: p.Protocol, Required: mustRaw(p.Version)}
		if p.ParameterID != 0 {
			info.Optional = mustRaw(p.ParameterID)
		}
		infos = append(infos, info)
	}
	for _, ca := range s.ChipAuthentication {
		info := securityInfo{Protocol: ca.Protocol, Required: mustRaw(ca.Version)}
		if ca.HasKeyID {
			info.Optional = mustRaw(ca.KeyID)
		}
		infos = append(infos, info)
	}
	for _, pk := range s.ChipAuthenticationKeys {
		info := securityInfo{Protocol: pk.Protocol, Required: asn1.RawValue{FullBytes: pk.PublicKey}}
		if pk.HasKeyID {
			info.Optional = mustRaw(pk.KeyID)
		}
		infos = append(infos, info)
	}
	for _, aa := range s.ActiveAuthentication {
		info := securityInfo{Protocol: aa.Protocol, Required: mustRaw(aa.Version)}
		if len(aa.SignatureAlgorithm) > 0 {
			info.Optional = mustRaw(aa.SignatureAlgorithm)
		}
		infos = append(infos, info)
	}

	set := make([]asn1.RawValue, 0, len(infos)+len(s.Unknown))
	for _, info := range infos {
		set = append(set, mustRaw(info))
	}
	for _, raw := range s.Unknown {
		set = append(set, asn1.RawValue{FullBytes: raw})
	}
	return asn1.MarshalWithParams(set, "set")
}
