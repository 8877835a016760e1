package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfigAndResolveRelativePaths(t *testing.T) {
	tmp := t.TempDir()
	keyPath := filepath.Join(tmp, "key0.hex")
	if err := os.WriteFile(keyPath, []byte("00112233445566778899AABBCCDDEEFF\n"), 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
auth:
  key_no: 0
  key_hex_file: "key0.hex"
runtime:
  reader_index: 0
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Auth.KeyHexFile != keyPath {
		t.Fatalf("expected resolved key path %q, got %q", keyPath, cfg.Auth.KeyHexFile)
	}
	if *cfg.Auth.KeyNo != 0 || *cfg.Runtime.ReaderIndex != 0 {
		t.Fatalf("unexpected field values: %+v", cfg)
	}
}

func TestLoadAllowsMissingKeyFileField(t *testing.T) {
	cfgPath := writeConfig(t, `
auth:
  key_no: 2
runtime:
  reader_index: 1
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Auth.KeyHexFile != "" {
		t.Fatalf("expected empty key file, got %q", cfg.Auth.KeyHexFile)
	}
}

func TestLoadFailsWithoutReaderIndex(t *testing.T) {
	cfgPath := writeConfig(t, `
auth:
  key_no: 0
`)
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.runtime.reader_index is required") {
		t.Fatalf("expected missing reader index error, got %v", err)
	}
}

func TestLoadFailsOnOutOfRangeKeyNo(t *testing.T) {
	cfgPath := writeConfig(t, `
auth:
  key_no: 7
runtime:
  reader_index: 0
`)
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.auth.key_no must be 0..4") {
		t.Fatalf("expected key_no range error, got %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	cfgPath := writeConfig(t, `
auth:
  key_no: 0
  mystery: true
runtime:
  reader_index: 0
`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected strict decoding to reject unknown fields")
	}
}

func TestLoadFailsOnUnreadableKeyFile(t *testing.T) {
	cfgPath := writeConfig(t, `
auth:
  key_no: 0
  key_hex_file: "does-not-exist.hex"
runtime:
  reader_index: 0
`)
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.auth.key_hex_file") {
		t.Fatalf("expected key file stat error, got %v", err)
	}
}
