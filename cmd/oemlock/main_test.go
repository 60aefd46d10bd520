package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/kardianos/oemlock"
	"github.com/kardianos/oemlock/config"
)

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	setSignature = ""
	fingerprintClient = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func memoryEnv(t *testing.T) {
	t.Setenv("OEMLOCK_CONFIG", "")
	t.Setenv("OEMLOCK_MODE", config.ModeMemory)
	t.Setenv("OEMLOCK_STORE", config.StoreMemory)
	t.Setenv("OEMLOCK_LOG_LEVEL", "error")
}

func TestMemoryCommands(t *testing.T) {
	memoryEnv(t)
	t.Setenv("OEMLOCK_PROPERTIES", oemlock.PropertyUnlockAllowed+":1")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"name"}, oemlock.MemoryName},
		{[]string{"get", "carrier"}, "true"},
		{[]string{"get", "device"}, "true"},
		{[]string{"set", "carrier", "false", "--signature", "abcd"}, ""},
		{[]string{"set", "device", "0"}, ""},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			got, err := run(t, tt.args...)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if strings.TrimSpace(got) != tt.want {
				t.Fatalf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	memoryEnv(t)

	tests := [][]string{
		{"get", "bootloader"},
		{"get"},
		{"set", "device", "maybe"},
		{"set", "carrier", "true", "--signature", "not-hex"},
		{"set", "device", "true", "--signature", "ab"},
		{"watch"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if _, err := run(t, args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTrustedModeRequiresServerFP(t *testing.T) {
	t.Setenv("OEMLOCK_CONFIG", "")
	t.Setenv("OEMLOCK_MODE", config.ModeTrusted)
	t.Setenv("OEMLOCK_STORE", config.StoreMemory)
	t.Setenv("OEMLOCK_SERVER_FP", "")
	t.Setenv("OEMLOCK_LOG_LEVEL", "error")

	_, err := run(t, "get", "carrier")
	if err == nil || !strings.Contains(err.Error(), "server_fp") {
		t.Fatalf("get without server_fp: %v", err)
	}
}

func TestFingerprintStable(t *testing.T) {
	memoryEnv(t)
	t.Setenv("OEMLOCK_STORE", config.StoreFile)
	t.Setenv("OEMLOCK_DATA_DIR", t.TempDir())
	t.Setenv("OEMLOCK_IDENTITY", "lock-test")

	first, err := run(t, "fingerprint")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	second, err := run(t, "fingerprint")
	if err != nil {
		t.Fatalf("fingerprint again: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprint changed: %q then %q", first, second)
	}
	client, err := run(t, "fingerprint", "--client")
	if err != nil {
		t.Fatalf("fingerprint --client: %v", err)
	}
	if client == first {
		t.Fatal("client and server identities share a fingerprint")
	}
}

func TestParseFPs(t *testing.T) {
	if _, err := parseFPs([]string{"zz"}); err == nil {
		t.Fatal("expected error for bad fingerprint")
	}
	fps, err := parseFPs(nil)
	if err != nil || len(fps) != 0 {
		t.Fatalf("parseFPs(nil) = %v, %v", fps, err)
	}
}
