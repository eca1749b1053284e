package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	password := "test-password-12345"
	values := map[string]string{
		"S3_ACCESS_KEY_ID":     "AKIATEST",
		"S3_SECRET_ACCESS_KEY": "secret123",
		"JUICEFS_METADATA_URI": "postgres://juicefs@db.internal/meta",
		"TAILSCALE_AUTH_KEY":   "tskey-auth-test",
	}

	if err := EncryptFile(tmpDir, password, values); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	path := filepath.Join(tmpDir, "nexus", secretsFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Secrets file was not created: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected file permissions 0600, got %04o", info.Mode().Perm())
	}

	decrypted, err := DecryptFile(tmpDir, password)
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}
	if len(decrypted) != len(values) {
		t.Errorf("Expected %d secrets, got %d", len(values), len(decrypted))
	}
	for key, want := range values {
		if got := decrypted[key]; got != want {
			t.Errorf("Secret %s: expected %q, got %q", key, want, got)
		}
	}
}

func TestDecryptWithWrongPassword(t *testing.T) {
	tmpDir := t.TempDir()

	if err := EncryptFile(tmpDir, "correct-password", map[string]string{"TAILSCALE_AUTH_KEY": "tskey"}); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	if _, err := DecryptFile(tmpDir, "wrong-password"); err == nil {
		t.Fatal("Expected decryption with wrong password to fail")
	}
}

func TestDecryptRejectsTruncatedFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := FilePath(tmpDir)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptFile(tmpDir, "any"); err == nil {
		t.Fatal("Expected truncated file to be rejected")
	}
}

func TestDecryptTightensPermissions(t *testing.T) {
	tmpDir := t.TempDir()

	if err := EncryptFile(tmpDir, "pw", map[string]string{"K": "v"}); err != nil {
		t.Fatal(err)
	}
	path := FilePath(tmpDir)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptFile(tmpDir, "pw"); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected permissions tightened to 0600, got %04o", info.Mode().Perm())
	}
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedForTest(nil) })

	SetDecryptedForTest(map[string]string{"JUICEFS_BUCKET": "from-file"})
	t.Setenv("JUICEFS_BUCKET", "from-env")
	t.Setenv("S3_ACCESS_KEY_ID", "env-only")

	if got, err := GetSecret("JUICEFS_BUCKET"); err != nil || got != "from-file" {
		t.Errorf("Expected file value to win, got %q (err %v)", got, err)
	}
	if got, err := GetSecret("S3_ACCESS_KEY_ID"); err != nil || got != "env-only" {
		t.Errorf("Expected env fallback, got %q (err %v)", got, err)
	}
	if _, err := GetSecret("MISSING_SECRET"); err == nil {
		t.Error("Expected error for unknown secret")
	}
	if got := Getenv("MISSING_SECRET"); got != "" {
		t.Errorf("Expected empty Getenv for unknown secret, got %q", got)
	}
}

func TestUnlockPopulatesMemory(t *testing.T) {
	t.Cleanup(func() { SetDecryptedForTest(nil) })

	tmpDir := t.TempDir()
	if err := EncryptFile(tmpDir, "pw", map[string]string{"TAILSCALE_AUTH_KEY": "tskey"}); err != nil {
		t.Fatal(err)
	}

	if err := Unlock(tmpDir, "pw"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if got, err := GetSecret("TAILSCALE_AUTH_KEY"); err != nil || got != "tskey" {
		t.Errorf("Expected unlocked secret, got %q (err %v)", got, err)
	}
	if !Exists(tmpDir) {
		t.Error("Expected Exists to report the secrets file")
	}
}
