// Package mrtdcrypto holds the symmetric primitives ICAO 9303 part 11 builds
// its access control and secure messaging on.
package mrtdcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/aead/cmac"
	"github.com/gmrtd/gmrtd/cryptoutils"
)

// Key derivation counters.
const (
	CounterEnc uint32 = 1
	CounterMAC uint32 = 2
	CounterPI  uint32 = 3
)

// Algorithm selects the block cipher a derived key is meant for.
type Algorithm int

const (
	TripleDES Algorithm = iota
	AES128
	AES192
	AES256
)

func (a Algorithm) String() string {
	switch a {
	case TripleDES:
		return "3DES"
	case AES128:
		return "AES-128"
	case AES192:
		return "AES-192"
	case AES256:
		return "AES-256"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// BlockSize of the algorithm's cipher.
func (a Algorithm) BlockSize() int {
	if a == TripleDES {
		return des.BlockSize
	}
	return aes.BlockSize
}

// KDF derives a key from a shared secret and counter.
func KDF(secret []byte, counter uint32, alg Algorithm) []byte {
	cipherAlg, bits := alg.kdfParams()
	return cryptoutils.KDF(secret, cryptoutils.KDFCounterType(counter), cipherAlg, bits)
}

func (a Algorithm) kdfParams() (cryptoutils.BlockCipherAlg, int) {
	switch a {
	case AES128:
		return cryptoutils.AES, 128
	case AES192:
		return cryptoutils.AES, 192
	case AES256:
		return cryptoutils.AES, 256
	default:
		return cryptoutils.TDES, 112
	}
}

// AdjustParity sets the DES odd parity bit of every key byte.
func AdjustParity(key []byte) []byte {
	return cryptoutils.DesKeyAdjustParity(key)
}

// NewTripleDES builds two-key 3DES (K1, K2, K1) from a 16 byte key.
func NewTripleDES(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("3DES key must be 16 bytes, got %d", len(key))
	}
	return cryptoutils.CipherForKey(cryptoutils.TDES, key)
}

// NewBlock returns the block cipher for alg keyed with key.
func NewBlock(alg Algorithm, key []byte) (cipher.Block, error) {
	if alg == TripleDES {
		return NewTripleDES(key)
	}
	return cryptoutils.CipherForKey(cryptoutils.AES, key)
}

// Pad applies ISO/IEC 9797-1 padding method 2.
func Pad(data []byte, blockSize int) []byte {
	return cryptoutils.ISO9797Method2Pad(data, blockSize)
}

var ErrPadding = errors.New("invalid ISO 9797-1 padding")

// Unpad strips ISO/IEC 9797-1 padding method 2.
func Unpad(data []byte) ([]byte, error) {
	out, err := cryptoutils.ISO9797Method2Unpad(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPadding, err)
	}
	return out, nil
}

// cryptoutils.CryptCBC panics on misaligned input, so lengths are checked here.
func checkCBC(block cipher.Block, iv, data []byte) error {
	if len(iv) != block.BlockSize() {
		return fmt.Errorf("IV length %d does not match block size %d", len(iv), block.BlockSize())
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return fmt.Errorf("data length %d is not a multiple of %d", len(data), block.BlockSize())
	}
	return nil
}

func EncryptCBC(block cipher.Block, iv, data []byte) ([]byte, error) {
	if err := checkCBC(block, iv, data); err != nil {
		return nil, err
	}
	return cryptoutils.CryptCBC(block, iv, data, true), nil
}

func DecryptCBC(block cipher.Block, iv, data []byte) ([]byte, error) {
	if err := checkCBC(block, iv, data); err != nil {
		return nil, err
	}
	return cryptoutils.CryptCBC(block, iv, data, false), nil
}

// EncryptECB encrypts a single block. Used for the AES secure messaging IV.
func EncryptECB(block cipher.Block, data []byte) []byte {
	out := make([]byte, len(data))
	for i := 0; i+block.BlockSize() <= len(data); i += block.BlockSize() {
		block.Encrypt(out[i:], data[i:i+block.BlockSize()])
	}
	return out
}

// RetailMAC is ISO/IEC 9797-1 MAC algorithm 3 with single DES and a 16
// byte key. data must already be padded to the DES block size.
func RetailMAC(key, data []byte) ([]byte, error) {
	return cryptoutils.ISO9797RetailMacDes(key, data)
}

// CMAC computes AES-CMAC over data and truncates it to size bytes.
func CMAC(key, data []byte, size int) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	h, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	sum := h.Sum(nil)
	if size > len(sum) {
		size = len(sum)
	}
	return sum[:size], nil
}

// MAC8 computes the 8 byte secure messaging MAC for alg over padded data.
func MAC8(alg Algorithm, key, data []byte) ([]byte, error) {
	if alg == TripleDES {
		return RetailMAC(key, data)
	}
	return CMAC(key, data, 8)
}

// Equal compares MACs in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// XOR returns a xor b over the shorter length.
func XOR(a, b []byte) []byte {
	n := min(len(a), len(b))
	out := make([]byte, n)
	subtle.XORBytes(out, a[:n], b[:n])
	return out
}
