package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kardianos/oemlock/channel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oemlock.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreBolt || cfg.Mode != ModeTrusted {
		t.Fatalf("defaults = store %q mode %q", cfg.Store, cfg.Mode)
	}
	if cfg.DataDir == "" || cfg.Identity == "" {
		t.Fatalf("defaults missing data dir or identity: %+v", cfg)
	}
}

func TestLayering(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/srv/oemlock"
store = "file"
listen = "0.0.0.0:9000"
allowed_clients = ["aa", "bb"]
log_level = "debug"

[properties]
"sys.oem_unlock_allowed" = "1"
`)
	t.Setenv("OEMLOCK_STORE", "memory")
	t.Setenv("OEMLOCK_SERVER_FP", "00112233445566778899aabbccddeeff")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name, got, want string
	}{
		{"file value kept", cfg.DataDir, "/srv/oemlock"},
		{"env over file", cfg.Store, StoreMemory},
		{"file over default", cfg.Listen, "0.0.0.0:9000"},
		{"default kept", cfg.Server, "127.0.0.1:7420"},
		{"env only", cfg.ServerFP, "00112233445566778899aabbccddeeff"},
		{"log level", cfg.LogLevel, "debug"},
		{"allowed clients", strings.Join(cfg.AllowedClients, ","), "aa,bb"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if v, ok := cfg.Property("sys.oem_unlock_allowed"); !ok || v != "1" {
		t.Errorf("property = %q, %v", v, ok)
	}
	if _, ok := cfg.Property("ro.missing"); ok {
		t.Error("missing property reported as set")
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("OEMLOCK_ALLOWED_CLIENTS", "aa,bb,cc")
	t.Setenv("OEMLOCK_PROPERTIES", "sys.oem_unlock_allowed:0")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AllowedClients) != 3 {
		t.Errorf("allowed clients = %v", cfg.AllowedClients)
	}
	if v, _ := cfg.Property("sys.oem_unlock_allowed"); v != "0" {
		t.Errorf("property = %q", v)
	}
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"store", `store = "tape"`, "store"},
		{"mode", `mode = "hardware"`, "mode"},
		{"log level", `log_level = "loud"`, "log_level"},
		{"log format", `log_format = "xml"`, "log_format"},
		{"unknown key", `colour = "blue"`, "unknown key"},
		{"syntax", `store = `, "reading config"},
		{"data dir", `data_dir = ""`, "data_dir"},
		{"identity empty", `identity = ""`, "identity"},
		{"identity chars", `identity = "lock/one"`, "identity"},
		{"identity long", `identity = "` + strings.Repeat("a", 49) + `"`, "identity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load succeeded")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestIdentityFromHost(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"", "oemlock"},
		{"lock01", "lock01"},
		{"lock01.example.com", "lock01"},
		{strings.Repeat("h", 63), strings.Repeat("h", 48)},
		{strings.Repeat("h", 63) + ".example.com", strings.Repeat("h", 48)},
		{"_bad", "oemlock"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got := identityFromHost(tt.host)
			if got != tt.want {
				t.Fatalf("identityFromHost(%q) = %q, want %q", tt.host, got, tt.want)
			}
			if err := channel.ValidateIdentityName(got); err != nil {
				t.Fatalf("default identity %q is invalid: %v", got, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	log := cfg.NewLogger(&buf)
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("unexpected json output: %s", out)
	}
}
