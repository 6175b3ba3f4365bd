package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32
	saltSize   = 16
	iterations = 100000
)

var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

// CryptoManager seals small secrets (private keys) with a passphrase.
// Output layout: base64(salt | nonce | ciphertext). The salt travels with the
// blob, so a sealed value can be opened by any later process knowing the passphrase.
type CryptoManager struct {
	password []byte
}

func NewCryptoManager(password string) (*CryptoManager, error) {
	if password == "" {
		return nil, errors.New("passphrase cannot be empty")
	}
	return &CryptoManager{password: []byte(password)}, nil
}

func (cm *CryptoManager) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(cm.password, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (cm *CryptoManager) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	gcm, err := cm.gcm(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (cm *CryptoManager) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(data) < saltSize {
		return "", errors.New("ciphertext too short")
	}

	gcm, err := cm.gcm(data[:saltSize])
	if err != nil {
		return "", err
	}
	data = data[saltSize:]

	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce := data[:gcm.NonceSize()]
	encryptedData := data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, encryptedData, nil)
	if err != nil {
		return "", ErrWrongPassphrase
	}

	return string(plaintext), nil
}
