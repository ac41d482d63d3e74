// Package crypto implements the fast-path cryptographic envelope:
// the FIPS/non-FIPS MAC-then-encrypt (and inverse)
// steps bracketed by the session-wide lock, applied around a PDU's
// payload bytes. The primitives themselves (MAC, encrypt) are an
// external collaborator reached through the Primitives interface.
//
// The locking shape here is modeled on
// pricillapb-contract/p2p/rlpx.go's rmu/wmu guards around one frame
// read or write: one mutex, acquired for exactly the duration of one
// envelope operation, released on every exit path including error
// returns.
package crypto

import (
	"fmt"
	"sync"
)

// Secure flags, the 2-bit field carried in the fast-path output
// header.
const (
	FlagSecureChecksum = 0x1
	FlagEncrypted      = 0x2
)

// FipsInformationSize and DataSignatureSize are the fixed envelope
// region sizes.
const (
	FipsInformationSize = 4
	DataSignatureSize   = 8
)

// Envelope applies and verifies the crypto envelope around one PDU's
// payload, guarded by a session-wide
// lock shared with every other envelope operation on the same
// session (send and receive paths both call in).
type Envelope struct {
	mu    *sync.Mutex
	prims Primitives
	fips  bool
}

// NewEnvelope builds an Envelope over prims, guarded by mu. mu is
// typically the same *sync.Mutex embedded in the owning session, so
// that a concurrent read and write never interleave cryptographic
// steps.
func NewEnvelope(prims Primitives, fips bool, mu *sync.Mutex) *Envelope {
	return &Envelope{mu: mu, prims: prims, fips: fips}
}

// SealResult carries the envelope fields produced by Seal, ready to
// be written into the output-PDU header region.
type SealResult struct {
	FipsInformation [FipsInformationSize]byte
	DataSignature   [DataSignatureSize]byte
	Payload         []byte // possibly longer than the input, for FIPS padding
	PadAdded        int
}

// Seal applies the write-side envelope steps to payload and returns
// the envelope fields plus the (possibly grown, possibly
// re-encrypted in place) payload bytes.
//
// When FIPS is enabled, payload must have spare capacity for up to 7
// pad bytes (cap(payload) >= len(payload)+7); callers reserve this
// room up front, mirroring the fixed-size-header-then-backpatch
// discipline the PDU header itself requires.
func (e *Envelope) Seal(payload []byte, secureFlags byte) (SealResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res SealResult

	if e.fips {
		pad := (8 - (len(payload) % 8)) % 8
		res.FipsInformation = [4]byte{0x10, 0x00, 0x01, byte(pad)}
		res.PadAdded = pad
		res.DataSignature = e.prims.HMACSign(payload)

		if cap(payload) < len(payload)+pad {
			return res, fmt.Errorf("crypto: payload has no room for %d fips pad bytes: %w", pad, ErrCryptoFailure)
		}
		padded := payload[:len(payload)+pad]
		for i := len(payload); i < len(padded); i++ {
			padded[i] = 0
		}
		if err := e.prims.FipsEncrypt(padded); err != nil {
			return res, fmt.Errorf("crypto: fips encrypt: %w", err)
		}
		res.Payload = padded
		return res, nil
	}

	if secureFlags&FlagSecureChecksum != 0 {
		res.DataSignature = e.prims.SaltedMAC(payload)
	} else {
		res.DataSignature = e.prims.MAC(payload)
	}
	if err := e.prims.Encrypt(payload); err != nil {
		return res, fmt.Errorf("crypto: encrypt: %w", err)
	}
	res.Payload = payload
	return res, nil
}

// Open applies the inverse, read-side steps: decrypt payload in
// place, then verify the signature. fipsInfo's pad byte (index 3) is
// used to trim the decrypted payload back to its unpadded length.
func (e *Envelope) Open(payload []byte, fipsInfo [FipsInformationSize]byte, signature [DataSignatureSize]byte, secureFlags byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fips {
		if err := e.prims.FipsDecrypt(payload); err != nil {
			return nil, fmt.Errorf("crypto: fips decrypt: %w", err)
		}
		pad := int(fipsInfo[3])
		if pad > len(payload) {
			return nil, fmt.Errorf("crypto: fips pad %d exceeds payload %d: %w", pad, len(payload), ErrCryptoFailure)
		}
		unpadded := payload[:len(payload)-pad]
		if !e.prims.VerifyHMAC(unpadded, signature) {
			return nil, fmt.Errorf("crypto: fips signature mismatch: %w", ErrCryptoFailure)
		}
		return unpadded, nil
	}

	if err := e.prims.Decrypt(payload); err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}
	var ok bool
	if secureFlags&FlagSecureChecksum != 0 {
		ok = e.prims.VerifySaltedMAC(payload, signature)
	} else {
		ok = e.prims.VerifyMAC(payload, signature)
	}
	if !ok {
		return nil, fmt.Errorf("crypto: signature mismatch: %w", ErrCryptoFailure)
	}
	return payload, nil
}
