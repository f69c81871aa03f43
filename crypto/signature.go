package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// signatureSize is the byte length of an r‖s signature (32 bytes each).
const signatureSize = 64

// Sign signs SHA-256(data) with the private key and returns the signature as
// a 128-char hex string encoding r‖s with both halves left-padded to 32 bytes.
func Sign(priv PrivateKey, data []byte) string {
	digest := HashBytes(data)
	r, s, err := ecdsa.Sign(rand.Reader, priv.key, digest)
	if err != nil {
		// Only possible on a broken entropy source; surfaced as an
		// empty signature which can never verify.
		return ""
	}
	sig := make([]byte, signatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded r‖s signature over SHA-256(data).
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != signatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", signatureSize, len(sig))
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	digest := HashBytes(data)
	if !ecdsa.Verify(pub.key, digest, r, s) {
		return errors.New("signature verification failed")
	}
	return nil
}
