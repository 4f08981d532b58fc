package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte("secret: s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.ClientTimeout != 10 {
		t.Errorf("ClientTimeout = %d, want 10", cfg.ClientTimeout)
	}
	if cfg.RequestTimeout != 30 {
		t.Errorf("RequestTimeout = %d, want 30", cfg.RequestTimeout)
	}
	if cfg.PeerPolicy != PeerPolicyRejectNew {
		t.Errorf("PeerPolicy = %q, want %q", cfg.PeerPolicy, PeerPolicyRejectNew)
	}
}

func TestLoad_MissingFileUsesDefaultsPlusEnv(t *testing.T) {
	t.Setenv("HA_TUNNEL_SECRET", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Secret != "from-env" {
		t.Errorf("Secret = %q, want %q", cfg.Secret, "from-env")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte("secret: file-secret\nport: 4000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HA_TUNNEL_PORT", "5000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Secret != "file-secret" {
		t.Errorf("Secret = %q, want %q", cfg.Secret, "file-secret")
	}
	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000 (env override)", cfg.Port)
	}
}

func TestLoad_TrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("HA_TUNNEL_SECRET", "s")
	t.Setenv("HA_TUNNEL_TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"10.0.0.1", "10.0.0.2"}
	if len(cfg.TrustedProxies) != len(want) {
		t.Fatalf("TrustedProxies = %v, want %v", cfg.TrustedProxies, want)
	}
	for i := range want {
		if cfg.TrustedProxies[i] != want[i] {
			t.Errorf("TrustedProxies[%d] = %q, want %q", i, cfg.TrustedProxies[i], want[i])
		}
	}
}

func TestValidate_RequiresSecret(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for missing secret")
	}
}

func TestValidate_RejectsBadPeerPolicy(t *testing.T) {
	cfg := defaults()
	cfg.Secret = "s"
	cfg.PeerPolicy = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for invalid peer_policy")
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := defaults()
	cfg.Secret = "s"
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for out-of-range port")
	}
}

func TestAddr(t *testing.T) {
	cfg := defaults()
	cfg.Host = "127.0.0.1"
	cfg.Port = 8080
	if got, want := cfg.Addr(), "127.0.0.1:8080"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
