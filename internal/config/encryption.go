package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionKeyEnv holds the passphrase ENC[...] values are sealed with
const EncryptionKeyEnv = "PARCELHUB_ENCRYPTION_KEY"

const (
	encryptedPrefix = "ENC["
	encryptedSuffix = "]"

	saltSize         = 16
	keySize          = 32
	pbkdf2Iterations = 100000
)

// passphrase returns the explicit encryption key or, failing that, a
// machine-bound fallback
func passphrase() []byte {
	if key := os.Getenv(EncryptionKeyEnv); key != "" {
		return []byte(key)
	}
	hostname, _ := os.Hostname()
	homeDir, _ := os.UserHomeDir()
	return []byte(fmt.Sprintf("%s-%s-parcelhub", hostname, homeDir))
}

func newGCM(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(passphrase(), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptPassword seals password with AES-256-GCM under a PBKDF2 key and
// returns it as ENC[base64(salt|nonce|ciphertext)]
func EncryptPassword(password string) (string, error) {
	if password == "" || IsEncrypted(password) {
		return password, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := newGCM(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(password), nil)
	blob := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	return encryptedPrefix + base64.StdEncoding.EncodeToString(blob) + encryptedSuffix, nil
}

// DecryptPassword reverses EncryptPassword. Values that are not ENC[...] are
// returned unchanged.
func DecryptPassword(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	encoded := strings.TrimSuffix(strings.TrimPrefix(value, encryptedPrefix), encryptedSuffix)
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted password: %w", err)
	}
	if len(blob) < saltSize {
		return "", fmt.Errorf("encrypted password is too short")
	}

	gcm, err := newGCM(blob[:saltSize])
	if err != nil {
		return "", err
	}
	rest := blob[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return "", fmt.Errorf("encrypted password is too short")
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: wrong %s or corrupted value", EncryptionKeyEnv)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value is an ENC[...] envelope
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix) && strings.HasSuffix(value, encryptedSuffix)
}
