// Package secrets stores the fleet credentials (S3 keys, JuiceFS DSN,
// Tailscale auth key) in an encrypted file so they never live in the repo in
// plaintext. Rendering only ever emits ${localEnv:VAR} placeholders; the
// decrypted values are handed to external tools as process environment by
// the up and sync flows.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
	"gopkg.in/yaml.v3"

	"codespaces/pkg/logx"
)

// Secrets file configuration.
const (
	secretsFileName = "secrets.yaml.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768 // 2^15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

// In-memory decrypted secrets, populated once per process by Unlock.
//
//nolint:gochecknoglobals // Intentional global state for in-memory secrets storage
var (
	decrypted    map[string]string
	decryptedMux sync.RWMutex
)

// FilePath returns the secrets file location for a fleet repo.
func FilePath(repoRoot string) string {
	return filepath.Join(repoRoot, "nexus", secretsFileName)
}

// Exists reports whether the repo has an encrypted secrets file.
func Exists(repoRoot string) bool {
	_, err := os.Stat(FilePath(repoRoot))
	return err == nil
}

// Unlock decrypts the secrets file and keeps the values in memory for
// GetSecret lookups.
func Unlock(repoRoot, password string) error {
	values, err := DecryptFile(repoRoot, password)
	if err != nil {
		return err
	}
	decryptedMux.Lock()
	decrypted = values
	decryptedMux.Unlock()
	return nil
}

// SetDecryptedForTest replaces the in-memory secrets wholesale. Tests use it
// to reset state between cases.
func SetDecryptedForTest(values map[string]string) {
	decryptedMux.Lock()
	decrypted = values
	decryptedMux.Unlock()
}

// SetSecret sets a secret value in memory. Save persists it.
func SetSecret(name, value string) {
	decryptedMux.Lock()
	defer decryptedMux.Unlock()
	if decrypted == nil {
		decrypted = make(map[string]string)
	}
	decrypted[name] = value
}

// GetSecret returns a secret value by name using standard precedence:
// 1. Decrypted secrets file (in memory)
// 2. Environment variables.
func GetSecret(name string) (string, error) {
	decryptedMux.RLock()
	if decrypted != nil {
		if value, ok := decrypted[name]; ok && value != "" {
			decryptedMux.RUnlock()
			return value, nil
		}
	}
	decryptedMux.RUnlock()

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// Getenv adapts GetSecret to the plain lookup signature the storage flows
// take, so `up` resolves credentials through the same precedence.
func Getenv(name string) string {
	value, err := GetSecret(name)
	if err != nil {
		return ""
	}
	return value
}

// Save persists the current in-memory secrets to the encrypted file.
func Save(repoRoot, password string) error {
	decryptedMux.RLock()
	values := make(map[string]string, len(decrypted))
	for k, v := range decrypted {
		values[k] = v
	}
	decryptedMux.RUnlock()
	return EncryptFile(repoRoot, password, values)
}

// EncryptFile encrypts and writes secrets to nexus/secrets.yaml.enc with
// 0600 permissions. File layout: [salt][nonce][ciphertext+tag].
func EncryptFile(repoRoot, password string, values map[string]string) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	defer zero(key)

	plaintext, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	path := FilePath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(path, fileData, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptFile decrypts and returns the secrets from nexus/secrets.yaml.enc.
// Loose file permissions are tightened back to 0600 before reading.
func DecryptFile(repoRoot, password string) (map[string]string, error) {
	path := FilePath(repoRoot)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0o600 {
		logx.NewLogger("secrets").Warn("Secrets file has permissions %04o, tightening to 0600", info.Mode().Perm())
		if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	minSize := saltSize + nonceSize + 16 // 16 is GCM tag size
	if len(fileData) < minSize {
		return nil, fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive decryption key: %w", err)
	}
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}

	var values map[string]string
	if err := yaml.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return values, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
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

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
