package policyopa

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBundleHashIgnoresNonNormativeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "policy.rego"), "package originalcapture.attestation")
	writeFile(t, filepath.Join(dir, "data.json"), `{"ok":true}`)

	hashA, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash A: %v", err)
	}

	writeFile(t, filepath.Join(dir, ".DS_Store"), "noise")
	writeFile(t, filepath.Join(dir, "swap.swp"), "noise")
	writeFile(t, filepath.Join(dir, "policy.rego~"), "noise")
	writeFile(t, filepath.Join(dir, "notes.txt"), "noise")
	if err := os.MkdirAll(filepath.Join(dir, "vendor"), 0o755); err != nil {
		t.Fatalf("mkdir vendor: %v", err)
	}
	writeFile(t, filepath.Join(dir, "vendor", "vendored.rego"), "junk")

	hashB, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash B: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("expected hash to ignore non-normative files")
	}
}

func TestBundleHashChangesOnPolicyChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.rego")
	writeFile(t, path, "package originalcapture.attestation")
	hashA, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash A: %v", err)
	}
	writeFile(t, path, "package originalcapture.attestation\ndefault hardware_backed = false")
	hashB, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash B: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("expected hash to change after policy update")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
