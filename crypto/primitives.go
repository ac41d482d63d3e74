package crypto

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/rc4"
	"crypto/sha1"
	"errors"
	"fmt"
)

// Primitives is the narrow interface through which the fast-path
// envelope reaches the session's cryptographic material. The MAC,
// salted-MAC, symmetric encrypt and FIPS encrypt primitives
// themselves are an external collaborator: this package owns only
// the envelope shape, not key management or the choice of cipher
// suite. A Primitives implementation is expected to hold the
// session's negotiated keys internally.
//
// The default implementation below (NewStdPrimitives) is provided so
// the package is usable standalone and in tests; it is built on the
// standard library because the actual primitives are a deliberately
// narrow external interface and no third-party RDP crypto suite
// exists anywhere in the example corpus
// to ground a replacement on.
type Primitives interface {
	// MAC computes the non-FIPS, non-salted message authentication
	// code over data, returning the 8-byte signature written into the
	// envelope's dataSignature field.
	MAC(data []byte) [8]byte
	// SaltedMAC computes the "secure checksum" variant, which folds a
	// session-derived salt into the MAC.
	SaltedMAC(data []byte) [8]byte
	// VerifyMAC and VerifySaltedMAC check a received signature against
	// data, mirroring MAC/SaltedMAC on the read side.
	VerifyMAC(data []byte, sig [8]byte) bool
	VerifySaltedMAC(data []byte, sig [8]byte) bool

	// HMACSign computes the FIPS envelope's HMAC-SHA1 signature over
	// the unpadded payload.
	HMACSign(data []byte) [8]byte
	VerifyHMAC(data []byte, sig [8]byte) bool

	// Encrypt/Decrypt apply the session's non-FIPS symmetric cipher to
	// data in place.
	Encrypt(data []byte) error
	Decrypt(data []byte) error

	// FipsEncrypt/FipsDecrypt apply 3DES-CBC to data in place. data's
	// length must already be a multiple of the cipher's block size;
	// the envelope is responsible for padding before calling this.
	FipsEncrypt(data []byte) error
	FipsDecrypt(data []byte) error
}

// ErrCryptoFailure is returned (wrapped) by Primitives implementations
// and by Envelope when a cryptographic step fails: bad key length,
// MAC mismatch, decrypt failure.
var ErrCryptoFailure = errors.New("crypto: failure")

// StdPrimitives is a default Primitives implementation built entirely
// on the standard library: HMAC-SHA1 for both the FIPS signature and
// the MAC/salted-MAC variants (truncated to 8 bytes, matching the
// wire's fixed signature width), RC4 for the non-FIPS stream cipher
// (the classic RDP "standard" security layer cipher), and 3DES-CBC for
// FIPS mode.
type StdPrimitives struct {
	macKey  []byte
	saltKey []byte
	fipsKey []byte
	fipsIV  []byte
	rc4Key  []byte
	rc4Enc  *rc4.Cipher
	rc4Dec  *rc4.Cipher
}

// NewStdPrimitives builds a StdPrimitives from session keys. macKey
// and saltKey may be the same slice if the caller does not
// distinguish them; fipsKey must be 24 bytes (3DES) and fipsIV 8
// bytes when FIPS mode is ever used; rc4Key sizes the RC4 keystream.
func NewStdPrimitives(macKey, saltKey, fipsKey, fipsIV, rc4Key []byte) (*StdPrimitives, error) {
	p := &StdPrimitives{
		macKey:  macKey,
		saltKey: saltKey,
		fipsKey: fipsKey,
		fipsIV:  fipsIV,
		rc4Key:  rc4Key,
	}
	if len(rc4Key) > 0 {
		enc, err := rc4.NewCipher(rc4Key)
		if err != nil {
			return nil, fmt.Errorf("crypto: rc4 key: %w", ErrCryptoFailure)
		}
		dec, err := rc4.NewCipher(rc4Key)
		if err != nil {
			return nil, fmt.Errorf("crypto: rc4 key: %w", ErrCryptoFailure)
		}
		p.rc4Enc = enc
		p.rc4Dec = dec
	}
	return p, nil
}

func truncate8(full []byte) [8]byte {
	var out [8]byte
	copy(out[:], full)
	return out
}

func (p *StdPrimitives) MAC(data []byte) [8]byte {
	h := hmac.New(sha1.New, p.macKey)
	h.Write(data)
	return truncate8(h.Sum(nil))
}

func (p *StdPrimitives) VerifyMAC(data []byte, sig [8]byte) bool {
	want := p.MAC(data)
	return hmac.Equal(want[:], sig[:])
}

func (p *StdPrimitives) SaltedMAC(data []byte) [8]byte {
	h := hmac.New(sha1.New, p.saltKey)
	h.Write(p.saltKey)
	h.Write(data)
	return truncate8(h.Sum(nil))
}

func (p *StdPrimitives) VerifySaltedMAC(data []byte, sig [8]byte) bool {
	want := p.SaltedMAC(data)
	return hmac.Equal(want[:], sig[:])
}

func (p *StdPrimitives) HMACSign(data []byte) [8]byte {
	h := hmac.New(sha1.New, p.fipsKey)
	h.Write(data)
	return truncate8(h.Sum(nil))
}

func (p *StdPrimitives) VerifyHMAC(data []byte, sig [8]byte) bool {
	want := p.HMACSign(data)
	return hmac.Equal(want[:], sig[:])
}

func (p *StdPrimitives) Encrypt(data []byte) error {
	if p.rc4Enc == nil {
		return fmt.Errorf("crypto: encrypt without key: %w", ErrCryptoFailure)
	}
	p.rc4Enc.XORKeyStream(data, data)
	return nil
}

func (p *StdPrimitives) Decrypt(data []byte) error {
	if p.rc4Dec == nil {
		return fmt.Errorf("crypto: decrypt without key: %w", ErrCryptoFailure)
	}
	p.rc4Dec.XORKeyStream(data, data)
	return nil
}

func (p *StdPrimitives) fipsBlock() (cipher.Block, error) {
	block, err := des.NewTripleDESCipher(p.fipsKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: 3des key: %w", ErrCryptoFailure)
	}
	return block, nil
}

func (p *StdPrimitives) FipsEncrypt(data []byte) error {
	if len(data)%des.BlockSize != 0 {
		return fmt.Errorf("crypto: fips payload not block aligned: %w", ErrCryptoFailure)
	}
	block, err := p.fipsBlock()
	if err != nil {
		return err
	}
	cipher.NewCBCEncrypter(block, p.fipsIV).CryptBlocks(data, data)
	return nil
}

func (p *StdPrimitives) FipsDecrypt(data []byte) error {
	if len(data)%des.BlockSize != 0 {
		return fmt.Errorf("crypto: fips payload not block aligned: %w", ErrCryptoFailure)
	}
	block, err := p.fipsBlock()
	if err != nil {
		return err
	}
	cipher.NewCBCDecrypter(block, p.fipsIV).CryptBlocks(data, data)
	return nil
}
