package refresh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/turku/storage-agent/config"
)

func TestRenderAuthorizedKeysScenarioS6(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "authorized_keys")

	staticPath := target + ".static"
	if err := os.WriteFile(staticPath, []byte("ssh-rsa AAAAstaticline operator@example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Configuration{
		AuthorizedKeys: config.AuthorizedKeysConfiguration{
			File:    target,
			Command: "turku-storage-ping",
		},
	}

	machines := map[string]machineInfo{
		"11111111-1111-1111-1111-111111111111": {SSHPublicKey: "ssh-ed25519 AAAAone", UnitName: "unit-one"},
		"22222222-2222-2222-2222-222222222222": {SSHPublicKey: "ssh-ed25519 AAAAtwo", UnitName: "unit-two"},
	}

	if err := renderAuthorizedKeys(cfg, machines); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	content := string(got)

	if !strings.Contains(content, "ssh-rsa AAAAstaticline operator@example.com\n") {
		t.Fatal("expected static file contents to be preserved")
	}

	lines := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "no-pty,no-agent-forwarding,no-X11-forwarding,no-user-rc,command=") {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("expected exactly 2 machine lines, got %d:\n%s", lines, content)
	}
	if !strings.Contains(content, `command="turku-storage-ping 11111111-1111-1111-1111-111111111111" ssh-ed25519 AAAAone (unit-one)`) {
		t.Fatalf("missing expected line for machine one:\n%s", content)
	}
}

func TestRenderAuthorizedKeysSkipsMachineWithoutKey(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "authorized_keys")
	cfg := &config.Configuration{
		AuthorizedKeys: config.AuthorizedKeysConfiguration{File: target, Command: "turku-storage-ping"},
	}
	machines := map[string]machineInfo{
		"33333333-3333-3333-3333-333333333333": {UnitName: "no-key"},
	}
	if err := renderAuthorizedKeys(cfg, machines); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), "no-key") {
		t.Fatalf("machine without a public key must not produce a line: %s", got)
	}
}
