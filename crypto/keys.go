package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// curve is the signature curve used across the whole protocol.
var curve = elliptic.P256()

// compressedPubKeySize is the byte length of a compressed P-256 point.
const compressedPubKeySize = 33

// privKeySize is the byte length of a P-256 scalar.
const privKeySize = 32

// PrivateKey wraps an ECDSA P-256 private key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey wraps an ECDSA P-256 public key.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// GenerateKeyPair generates a new ECDSA P-256 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return PrivateKey{key: priv}, PublicKey{key: &priv.PublicKey}, nil
}

// Address returns a 40-char hex address derived from the public key.
// It takes the first 20 bytes of SHA-256(compressed pubkey).
func (pub PublicKey) Address() string {
	h := HashBytes(pub.Bytes())
	return hex.EncodeToString(h[:20])
}

// Bytes returns the compressed 33-byte point encoding.
func (pub PublicKey) Bytes() []byte {
	return elliptic.MarshalCompressed(curve, pub.key.X, pub.key.Y)
}

// Hex returns the 66-char hex-encoded compressed public key.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub.Bytes())
}

// Hex returns the hex-encoded 32-byte private scalar.
func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv.Bytes())
}

// Bytes returns the private scalar left-padded to 32 bytes.
func (priv PrivateKey) Bytes() []byte {
	b := make([]byte, privKeySize)
	priv.key.D.FillBytes(b)
	return b
}

// Public derives the public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey{key: &priv.key.PublicKey}
}

// PubKeyFromHex decodes a hex-encoded compressed public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	if len(b) != compressedPubKeySize {
		return PublicKey{}, fmt.Errorf("pubkey must be %d bytes, got %d", compressedPubKeySize, len(b))
	}
	x, y := elliptic.UnmarshalCompressed(curve, b)
	if x == nil {
		return PublicKey{}, fmt.Errorf("pubkey is not a valid P-256 point")
	}
	return PublicKey{key: &ecdsa.PublicKey{Curve: curve, X: x, Y: y}}, nil
}

// PrivKeyFromHex decodes a hex-encoded private scalar and rederives the
// public point.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("invalid privkey hex: %w", err)
	}
	if len(b) != privKeySize {
		return PrivateKey{}, fmt.Errorf("privkey must be %d bytes, got %d", privKeySize, len(b))
	}
	d := new(big.Int).SetBytes(b)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return PrivateKey{}, fmt.Errorf("privkey scalar out of range")
	}
	priv := &ecdsa.PrivateKey{D: d}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(b)
	return PrivateKey{key: priv}, nil
}
