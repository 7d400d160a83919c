// Package simulator is an in-process eMRTD chip. It answers BAC, PACE,
// chip authentication, active authentication and READ BINARY the way a
// conformant passport does, and can inject faults for tests.
package simulator

import (
	"bytes"
	"context"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/auth"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/securemessaging"
	"go-emrtd-connector/tlv"
	"go-emrtd-connector/transport"
)

// SWAuthenticationFailed is returned when a handshake step does not verify.
const SWAuthenticationFailed = 0x6300

// Options configure a simulated chip.
type Options struct {
	Document Document
	// Keys defaults to a key set shared by every chip in the process.
	Keys *Keys

	// PACE publishes EF.CardAccess and accepts PACE with generic mapping.
	PACE            bool
	PACEParameterID int
	// DisableBAC refuses GET CHALLENGE, as PACE-only chips do.
	DisableBAC bool

	ChipAuthentication   bool
	ActiveAuthentication bool

	// ProtectedGroups are listed in EF.COM but refused with 6982.
	ProtectedGroups []lds.DataGroupID

	Faults Faults
	Random io.Reader
}

// Faults make the chip misbehave.
type Faults struct {
	// TamperSOD flips a byte of the SOD signature.
	TamperSOD bool
	// TamperGroup flips a byte of the group after the SOD was signed.
	TamperGroup lds.DataGroupID
	// ShortReads answers the first n READ BINARY commands asking for more
	// than 8 bytes with half the bytes and no end of file warning.
	ShortReads int
	// Latency delays every exchange.
	Latency time.Duration
	// ReplayAfter answers the n-th protected command with the previous
	// protected response.
	ReplayAfter int
	// CounterMismatchAfter refuses the n-th protected command with 6988.
	CounterMismatchAfter int
	// LoseAfter fails the n-th exchange as if the chip left the field.
	LoseAfter int
	// OnCommand sees every command after unwrapping. A non-nil error is
	// returned from Transmit.
	OnCommand func(ctx context.Context, cmd apdu.Command) error
}

var defaultKeys = sync.OnceValues(NewKeys)

// DefaultKeys returns the process wide key set.
func DefaultKeys() (*Keys, error) {
	return defaultKeys()
}

type paceState struct {
	protocol asn1.ObjectIdentifier
	alg      mrtdcrypto.Algorithm
	curve    elliptic.Curve
	password []byte
	step     int

	nonce        []byte
	gx, gy       *big.Int
	ephX, ephY   *big.Int
	termX, termY *big.Int
	ksEnc, ksMac []byte
}

// Chip is a simulated eMRTD chip. It implements transport.Channel.
type Chip struct {
	mu     sync.Mutex
	opts   Options
	keys   *Keys
	random io.Reader

	files     map[uint16][]byte
	protected map[uint16]bool
	groups    map[lds.DataGroupID][]byte

	appSelected bool
	selected    uint16
	hasSelected bool

	sm        *securemessaging.ChipSide
	pendingSM *securemessaging.ChipSide
	rndIC     []byte
	pace      *paceState
	caReady   bool

	exchanges  int
	protectedN int
	shortReads int
	lastSealed []byte
	commands   []apdu.Command
}

// NewChip builds the files of opts.Document and returns a chip in the field.
func NewChip(opts Options) (*Chip, error) {
	keys := opts.Keys
	if keys == nil {
		var err error
		if keys, err = DefaultKeys(); err != nil {
			return nil, err
		}
	}
	if opts.PACEParameterID == 0 {
		opts.PACEParameterID = lds.ParamNISTP256
	}
	random := opts.Random
	if random == nil {
		random = rand.Reader
	}

	doc := opts.Document
	dg2, err := doc.DG2()
	if err != nil {
		return nil, err
	}
	groups := map[lds.DataGroupID][]byte{
		lds.DG1:  doc.DG1(),
		lds.DG2:  dg2,
		lds.DG11: doc.DG11(),
		lds.DG12: doc.DG12(),
	}
	if opts.ChipAuthentication {
		if groups[lds.DG14], err = keys.DG14(); err != nil {
			return nil, err
		}
	}
	if opts.ActiveAuthentication {
		if groups[lds.DG15], err = keys.DG15(); err != nil {
			return nil, err
		}
	}
	protected := make(map[uint16]bool)
	for _, id := range opts.ProtectedGroups {
		groups[id] = tlv.Encode(id.Tag(), []byte{0x00})
		protected[id.FID()] = true
	}

	sod, err := keys.SOD(groups)
	if err != nil {
		return nil, err
	}
	if opts.Faults.TamperSOD {
		sod[len(sod)-1] ^= 0xFF
	}
	if id := opts.Faults.TamperGroup; id != 0 {
		if g, ok := groups[id]; ok {
			tampered := bytes.Clone(g)
			tampered[len(tampered)-1] ^= 0x01
			groups[id] = tampered
		}
	}

	com := lds.COM{LDSVersion: "0107", UnicodeVersion: "040000"}
	files := map[uint16][]byte{lds.FIDSOD: sod}
	for id := lds.DG1; id <= lds.DG16; id++ {
		if g, ok := groups[id]; ok {
			com.DataGroups = append(com.DataGroups, id)
			files[id.FID()] = g
		}
	}
	files[lds.FIDCOM] = com.Encode()
	if opts.PACE {
		if files[lds.FIDCardAccess], err = CardAccess(opts.PACEParameterID); err != nil {
			return nil, err
		}
	}

	return &Chip{
		opts:      opts,
		keys:      keys,
		random:    random,
		files:     files,
		protected: protected,
		groups:    groups,
	}, nil
}

// DataGroup returns the bytes the chip serves for id.
func (c *Chip) DataGroup(id lds.DataGroupID) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.groups[id])
}

func (c *Chip) Keys() *Keys { return c.keys }

// Commands returns the unwrapped commands the chip has processed.
func (c *Chip) Commands() []apdu.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]apdu.Command(nil), c.commands...)
}

// Transmit processes one command APDU.
func (c *Chip) Transmit(ctx context.Context, raw []byte) ([]byte, error) {
	if d := c.opts.Faults.Latency; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.exchanges++
	if n := c.opts.Faults.LoseAfter; n > 0 && c.exchanges >= n {
		return nil, transport.ErrLost
	}
	if len(raw) > 0 && raw[0]&apdu.ClaSecureMessage == apdu.ClaSecureMessage && c.sm != nil {
		return c.transmitProtected(ctx, raw)
	}

	if c.sm != nil {
		// a plain command ends the secure messaging session
		c.sm = nil
		c.appSelected = false
	}
	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return apdu.Response{SW: apdu.SWWrongLength}.Bytes(), nil
	}
	if err := c.observe(ctx, cmd); err != nil {
		return nil, err
	}
	return c.handle(cmd).Bytes(), nil
}

func (c *Chip) transmitProtected(ctx context.Context, raw []byte) ([]byte, error) {
	c.protectedN++
	if n := c.opts.Faults.CounterMismatchAfter; n > 0 && c.protectedN == n {
		c.sm = nil
		return apdu.Response{SW: apdu.SWSMObjectsIncorrect}.Bytes(), nil
	}
	cmd, err := c.sm.OpenCommand(raw)
	if err != nil {
		c.sm = nil
		c.appSelected = false
		return apdu.Response{SW: apdu.SWSMObjectsIncorrect}.Bytes(), nil
	}
	if err := c.observe(ctx, cmd); err != nil {
		return nil, err
	}

	sealed, err := c.sm.SealResponse(cmd.Ins, c.handle(cmd))
	if err != nil {
		return nil, fmt.Errorf("sealing response: %w", err)
	}
	if n := c.opts.Faults.ReplayAfter; n > 0 && c.protectedN == n && c.lastSealed != nil {
		sealed = c.lastSealed
	}
	c.lastSealed = sealed
	if c.pendingSM != nil {
		c.sm, c.pendingSM = c.pendingSM, nil
	}
	return sealed, nil
}

func (c *Chip) observe(ctx context.Context, cmd apdu.Command) error {
	c.commands = append(c.commands, cmd)
	if c.opts.Faults.OnCommand != nil {
		return c.opts.Faults.OnCommand(ctx, cmd)
	}
	return nil
}

func status(sw uint16) apdu.Response {
	return apdu.Response{SW: sw}
}

func (c *Chip) handle(cmd apdu.Command) apdu.Response {
	switch cmd.Ins {
	case apdu.InsSelect:
		return c.selectFile(cmd)
	case apdu.InsReadBinary, apdu.InsReadBinaryOdd:
		return c.readBinary(cmd)
	case apdu.InsGetChallenge:
		return c.getChallenge(cmd)
	case apdu.InsExternalAuth:
		return c.externalAuthenticate(cmd)
	case apdu.InsManageSecurityEnv:
		return c.manageSecurityEnvironment(cmd)
	case apdu.InsGeneralAuthenticate:
		if c.sm != nil && c.caReady {
			return c.chipAuthenticate(cmd)
		}
		return c.paceStep(cmd)
	case apdu.InsInternalAuth:
		return c.internalAuthenticate(cmd)
	}
	return status(apdu.SWInsNotSupported)
}

func (c *Chip) selectFile(cmd apdu.Command) apdu.Response {
	switch cmd.P1 {
	case 0x04:
		if !bytes.Equal(cmd.Data, apdu.MRTDApplicationID) {
			return status(apdu.SWFileNotFound)
		}
		c.appSelected = true
		c.hasSelected = false
		return status(apdu.SWSuccess)
	case 0x00, 0x02:
		if len(cmd.Data) != 2 {
			return status(apdu.SWWrongData)
		}
		fid := uint16(cmd.Data[0])<<8 | uint16(cmd.Data[1])
		if fid == lds.FIDCardAccess {
			if _, ok := c.files[fid]; !ok {
				return status(apdu.SWFileNotFound)
			}
			c.selected, c.hasSelected = fid, true
			return status(apdu.SWSuccess)
		}
		if !c.appSelected {
			return status(apdu.SWFileNotFound)
		}
		if c.sm == nil || c.protected[fid] {
			return status(apdu.SWSecurityNotSatisfied)
		}
		if _, ok := c.files[fid]; !ok {
			return status(apdu.SWFileNotFound)
		}
		c.selected, c.hasSelected = fid, true
		return status(apdu.SWSuccess)
	}
	return status(apdu.SWWrongP1P2)
}

func (c *Chip) readBinary(cmd apdu.Command) apdu.Response {
	if !c.hasSelected {
		return status(apdu.SWConditionsNotMet)
	}
	if c.selected != lds.FIDCardAccess && c.sm == nil {
		return status(apdu.SWSecurityNotSatisfied)
	}
	file := c.files[c.selected]

	var offset, ne int
	if cmd.Ins == apdu.InsReadBinary {
		if cmd.P1&0x80 != 0 {
			return status(apdu.SWWrongP1P2)
		}
		offset = int(cmd.P1)<<8 | int(cmd.P2)
		ne = cmd.Ne
	} else {
		off, err := tlv.Unwrap(cmd.Data, 0x54)
		if err != nil || len(off) == 0 || len(off) > 3 {
			return status(apdu.SWWrongData)
		}
		for _, b := range off {
			offset = offset<<8 | int(b)
		}
		ne = cmd.Ne - 2
		if ne > 0x7F {
			ne = cmd.Ne - 3
		}
	}
	if offset > len(file) {
		return status(apdu.SWWrongOffset)
	}

	want := ne
	if want > 8 && c.shortReads < c.opts.Faults.ShortReads {
		c.shortReads++
		want /= 2
	}
	end := min(offset+want, len(file))
	data := bytes.Clone(file[offset:end])
	sw := uint16(apdu.SWSuccess)
	if end-offset < ne && want == ne {
		sw = apdu.SWEndOfFile
	}
	if cmd.Ins == apdu.InsReadBinaryOdd {
		data = tlv.Encode(0x53, data)
	}
	return apdu.Response{Data: data, SW: sw}
}

func (c *Chip) getChallenge(cmd apdu.Command) apdu.Response {
	if c.opts.DisableBAC {
		return status(apdu.SWInsNotSupported)
	}
	if cmd.Ne != 8 {
		return status(apdu.SWWrongLength)
	}
	c.rndIC = make([]byte, 8)
	if _, err := io.ReadFull(c.random, c.rndIC); err != nil {
		return status(apdu.SWUnknown)
	}
	return apdu.Response{Data: bytes.Clone(c.rndIC), SW: apdu.SWSuccess}
}

func (c *Chip) externalAuthenticate(cmd apdu.Command) apdu.Response {
	rndIC := c.rndIC
	c.rndIC = nil
	if rndIC == nil || c.opts.DisableBAC {
		return status(apdu.SWConditionsNotMet)
	}
	if len(cmd.Data) != 40 {
		return status(apdu.SWWrongLength)
	}
	seed, err := c.opts.Document.Credential().KeySeed()
	if err != nil {
		return status(apdu.SWUnknown)
	}
	kEnc := mrtdcrypto.KDF(seed, mrtdcrypto.CounterEnc, mrtdcrypto.TripleDES)
	kMac := mrtdcrypto.KDF(seed, mrtdcrypto.CounterMAC, mrtdcrypto.TripleDES)
	block, err := mrtdcrypto.NewTripleDES(kEnc)
	if err != nil {
		return status(apdu.SWUnknown)
	}

	eIFD, mIFD := cmd.Data[:32], cmd.Data[32:]
	mac, err := mrtdcrypto.RetailMAC(kMac, mrtdcrypto.Pad(eIFD, 8))
	if err != nil || !mrtdcrypto.Equal(mac, mIFD) {
		return status(SWAuthenticationFailed)
	}
	s, err := mrtdcrypto.DecryptCBC(block, make([]byte, 8), eIFD)
	if err != nil || !bytes.Equal(s[8:16], rndIC) {
		return status(SWAuthenticationFailed)
	}
	rndIFD, kIFD := s[:8], s[16:32]

	kIC := make([]byte, 16)
	if _, err := io.ReadFull(c.random, kIC); err != nil {
		return status(apdu.SWUnknown)
	}
	r := make([]byte, 0, 32)
	r = append(r, rndIC...)
	r = append(r, rndIFD...)
	r = append(r, kIC...)
	eIC, err := mrtdcrypto.EncryptCBC(block, make([]byte, 8), r)
	if err != nil {
		return status(apdu.SWUnknown)
	}
	mIC, err := mrtdcrypto.RetailMAC(kMac, mrtdcrypto.Pad(eIC, 8))
	if err != nil {
		return status(apdu.SWUnknown)
	}

	seedSession := mrtdcrypto.XOR(kIFD, kIC)
	ssc := append(append([]byte{}, rndIC[4:8]...), rndIFD[4:8]...)
	sm, err := securemessaging.NewChipSide(mrtdcrypto.TripleDES,
		mrtdcrypto.KDF(seedSession, mrtdcrypto.CounterEnc, mrtdcrypto.TripleDES),
		mrtdcrypto.KDF(seedSession, mrtdcrypto.CounterMAC, mrtdcrypto.TripleDES),
		ssc)
	if err != nil {
		return status(apdu.SWUnknown)
	}
	c.sm = sm
	return apdu.Response{Data: append(eIC, mIC...), SW: apdu.SWSuccess}
}

func (c *Chip) manageSecurityEnvironment(cmd apdu.Command) apdu.Response {
	nodes, err := tlv.Decode(cmd.Data)
	if err != nil {
		return status(apdu.SWWrongData)
	}
	oid, ok := tlv.Find(nodes, 0x80)
	if !ok {
		return status(apdu.SWWrongData)
	}

	switch {
	case cmd.P1 == 0xC1 && cmd.P2 == 0xA4:
		return c.paceSetAT(nodes, oid.Value)
	case cmd.P1 == 0x41 && cmd.P2 == 0xA4:
		if c.sm == nil || !c.opts.ChipAuthentication {
			return status(apdu.SWConditionsNotMet)
		}
		want, err := asn1OIDContent(lds.OIDCAECDHAES128)
		if err != nil || !bytes.Equal(oid.Value, want) {
			return status(apdu.SWWrongData)
		}
		c.caReady = true
		return status(apdu.SWSuccess)
	}
	return status(apdu.SWWrongP1P2)
}

func (c *Chip) paceSetAT(nodes []tlv.Node, oid []byte) apdu.Response {
	if !c.opts.PACE {
		return status(apdu.SWConditionsNotMet)
	}
	want, err := asn1OIDContent(lds.OIDPACEECDHGMAES128)
	if err != nil || !bytes.Equal(oid, want) {
		return status(apdu.SWWrongData)
	}
	ref, ok := tlv.Find(nodes, 0x83)
	if !ok || len(ref.Value) != 1 {
		return status(apdu.SWWrongData)
	}
	if param, ok := tlv.Find(nodes, 0x84); ok {
		if len(param.Value) != 1 || int(param.Value[0]) != c.opts.PACEParameterID {
			return status(apdu.SWWrongData)
		}
	}

	var cred mrz.Credential
	switch ref.Value[0] {
	case mrz.PasswordMRZ:
		cred = c.opts.Document.Credential()
	case mrz.PasswordCAN:
		cred = c.opts.Document.CanCredential()
	default:
		return status(apdu.SWWrongData)
	}
	password, err := cred.Password()
	if err != nil {
		return status(apdu.SWConditionsNotMet)
	}
	curve, err := auth.CurveByParameterID(c.opts.PACEParameterID)
	if err != nil {
		return status(apdu.SWWrongData)
	}
	alg, err := auth.PACECipher(lds.OIDPACEECDHGMAES128)
	if err != nil {
		return status(apdu.SWWrongData)
	}

	c.sm = nil
	c.pace = &paceState{
		protocol: lds.OIDPACEECDHGMAES128,
		alg:      alg,
		curve:    curve,
		password: password,
	}
	return status(apdu.SWSuccess)
}

func asn1OIDContent(oid asn1.ObjectIdentifier) ([]byte, error) {
	der, err := asn1.Marshal(oid)
	if err != nil {
		return nil, err
	}
	return tlv.Unwrap(der, 0x06)
}

func dynamicAuthData(cmd apdu.Command) ([]tlv.Node, error) {
	inner, err := tlv.Unwrap(cmd.Data, 0x7C)
	if err != nil {
		return nil, err
	}
	return tlv.Decode(inner)
}

func (c *Chip) paceStep(cmd apdu.Command) apdu.Response {
	p := c.pace
	if p == nil {
		return status(apdu.SWConditionsNotMet)
	}
	nodes, err := dynamicAuthData(cmd)
	if err != nil {
		c.pace = nil
		return status(apdu.SWWrongData)
	}
	fail := func(sw uint16) apdu.Response {
		c.pace = nil
		return status(sw)
	}
	point := func(tag tlv.Tag) (*big.Int, *big.Int, bool) {
		n, ok := tlv.Find(nodes, tag)
		if !ok {
			return nil, nil, false
		}
		x, y, err := auth.DecodePoint(p.curve, n.Value)
		return x, y, err == nil
	}

	switch p.step {
	case 0:
		p.nonce = make([]byte, 16)
		if _, err := io.ReadFull(c.random, p.nonce); err != nil {
			return fail(apdu.SWUnknown)
		}
		block, err := mrtdcrypto.NewBlock(p.alg, mrtdcrypto.KDF(p.password, mrtdcrypto.CounterPI, p.alg))
		if err != nil {
			return fail(apdu.SWUnknown)
		}
		z, err := mrtdcrypto.EncryptCBC(block, make([]byte, block.BlockSize()), p.nonce)
		if err != nil {
			return fail(apdu.SWUnknown)
		}
		p.step++
		return apdu.Response{Data: tlv.Encode(0x7C, tlv.Encode(0x80, z)), SW: apdu.SWSuccess}

	case 1:
		tx, ty, ok := point(0x81)
		if !ok {
			return fail(apdu.SWWrongData)
		}
		key, mx, my, err := auth.GenerateKey(p.curve, c.random)
		if err != nil {
			return fail(apdu.SWUnknown)
		}
		hx, hy := p.curve.ScalarMult(tx, ty, key)
		if p.gx, p.gy, err = auth.MapGenerator(p.curve, p.nonce, hx, hy); err != nil {
			return fail(apdu.SWWrongData)
		}
		p.step++
		return apdu.Response{Data: tlv.Encode(0x7C, tlv.Encode(0x82, auth.EncodePoint(p.curve, mx, my))), SW: apdu.SWSuccess}

	case 2:
		tx, ty, ok := point(0x83)
		if !ok {
			return fail(apdu.SWWrongData)
		}
		key, ex, ey, err := auth.GenerateKeyOn(p.curve, p.gx, p.gy, c.random)
		if err != nil {
			return fail(apdu.SWUnknown)
		}
		secret, err := auth.SharedSecret(p.curve, tx, ty, key)
		if err != nil {
			return fail(apdu.SWWrongData)
		}
		p.ephX, p.ephY, p.termX, p.termY = ex, ey, tx, ty
		p.ksEnc = mrtdcrypto.KDF(secret, mrtdcrypto.CounterEnc, p.alg)
		p.ksMac = mrtdcrypto.KDF(secret, mrtdcrypto.CounterMAC, p.alg)
		p.step++
		return apdu.Response{Data: tlv.Encode(0x7C, tlv.Encode(0x84, auth.EncodePoint(p.curve, ex, ey))), SW: apdu.SWSuccess}

	case 3:
		token, ok := tlv.Find(nodes, 0x85)
		if !ok {
			return fail(apdu.SWWrongData)
		}
		want, err := auth.AuthToken(p.alg, p.ksMac, p.protocol, p.curve, p.ephX, p.ephY)
		if err != nil || !mrtdcrypto.Equal(want, token.Value) {
			return fail(SWAuthenticationFailed)
		}
		reply, err := auth.AuthToken(p.alg, p.ksMac, p.protocol, p.curve, p.termX, p.termY)
		if err != nil {
			return fail(apdu.SWUnknown)
		}
		sm, err := securemessaging.NewChipSide(p.alg, p.ksEnc, p.ksMac, make([]byte, 16))
		if err != nil {
			return fail(apdu.SWUnknown)
		}
		c.pace = nil
		c.sm = sm
		c.appSelected = false
		return apdu.Response{Data: tlv.Encode(0x7C, tlv.Encode(0x86, reply)), SW: apdu.SWSuccess}
	}
	return fail(apdu.SWConditionsNotMet)
}

func (c *Chip) chipAuthenticate(cmd apdu.Command) apdu.Response {
	c.caReady = false
	nodes, err := dynamicAuthData(cmd)
	if err != nil {
		return status(apdu.SWWrongData)
	}
	n, ok := tlv.Find(nodes, 0x80)
	if !ok {
		return status(apdu.SWWrongData)
	}
	curve := c.keys.ChipAuthCurve
	x, y, err := auth.DecodePoint(curve, n.Value)
	if err != nil {
		return status(apdu.SWWrongData)
	}
	secret, err := auth.SharedSecret(curve, x, y, c.keys.ChipAuthKey)
	if err != nil {
		return status(apdu.SWWrongData)
	}
	next, err := securemessaging.NewChipSide(mrtdcrypto.AES128,
		mrtdcrypto.KDF(secret, mrtdcrypto.CounterEnc, mrtdcrypto.AES128),
		mrtdcrypto.KDF(secret, mrtdcrypto.CounterMAC, mrtdcrypto.AES128),
		make([]byte, 16))
	if err != nil {
		return status(apdu.SWUnknown)
	}
	c.pendingSM = next
	return apdu.Response{Data: tlv.Encode(0x7C, nil), SW: apdu.SWSuccess}
}

func (c *Chip) internalAuthenticate(cmd apdu.Command) apdu.Response {
	if !c.opts.ActiveAuthentication {
		return status(apdu.SWInsNotSupported)
	}
	if c.sm == nil {
		return status(apdu.SWSecurityNotSatisfied)
	}
	if len(cmd.Data) != auth.ActiveAuthChallengeLen {
		return status(apdu.SWWrongData)
	}
	sig, err := c.keys.SignActiveAuth(c.random, cmd.Data)
	if err != nil {
		return status(apdu.SWUnknown)
	}
	return apdu.Response{Data: sig, SW: apdu.SWSuccess}
}
