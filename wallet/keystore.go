// Package wallet provides key management and transaction signing helpers
// for the node identity key.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/annealchain/annealchain/crypto"
)

// kdfIterations for PBKDF2-SHA256. The keystore guards a hot validator key
// on disk, not a vault; this matches interactive unlock latency.
const kdfIterations = 4096

type keystoreFile struct {
	PubKey     string `json:"pub_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey encrypts priv with password and writes it to path.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, priv.Bytes(), nil)

	ks := keystoreFile{
		PubKey:     priv.Public().Hex(),
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKey reads and decrypts the keystore at path.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return crypto.PrivateKey{}, err
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return crypto.PrivateKey{}, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	plain, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return crypto.PrivateKey{}, errors.New("keystore decryption failed (wrong password?)")
	}
	priv, err := crypto.PrivKeyFromHex(hex.EncodeToString(plain))
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	if priv.Public().Hex() != ks.PubKey {
		return crypto.PrivateKey{}, errors.New("keystore pubkey mismatch")
	}
	return priv, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New)
}
