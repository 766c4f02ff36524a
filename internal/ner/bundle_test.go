package ner

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
)

func writeBundle(t *testing.T, files map[string]string, tamper func(*Manifest)) (string, []byte) {
	t.Helper()
	dir := t.TempDir()
	var m Manifest
	m.Model = "test-ner"
	m.Version = "1"
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		sum := sha256.Sum256([]byte(content))
		m.Files = append(m.Files, ManifestFile{Path: name, SHA256: hex.EncodeToString(sum[:]), Size: int64(len(content))})
	}
	if tamper != nil {
		tamper(&m)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), raw, 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir, raw
}

var bundleFiles = map[string]string{
	"model.onnx":          "not really a model",
	"config.json":         `{"id2label":{"0":"O"}}`,
	"tokenizer/vocab.txt": "[PAD]\n[UNK]\n",
}

func TestVerifyBundleHashes(t *testing.T) {
	dir, _ := writeBundle(t, bundleFiles, nil)
	m, err := VerifyBundle(dir, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if m.Model != "test-ner" || len(m.Files) != 3 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestVerifyBundleFailures(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(*Manifest)
	}{
		{"hash mismatch", func(m *Manifest) { m.Files[0].SHA256 = hex.EncodeToString(make([]byte, 32)) }},
		{"size mismatch", func(m *Manifest) { m.Files[0].Size++ }},
		{"missing file", func(m *Manifest) { m.Files = append(m.Files, ManifestFile{Path: "gone.bin"}) }},
		{"escaping path", func(m *Manifest) { m.Files = append(m.Files, ManifestFile{Path: "../outside"}) }},
		{"empty manifest", func(m *Manifest) { m.Files = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, _ := writeBundle(t, bundleFiles, tt.tamper)
			if _, err := VerifyBundle(dir, ""); !errors.Is(err, ErrBundleIntegrity) {
				t.Fatalf("expected ErrBundleIntegrity, got %v", err)
			}
		})
	}
}

func TestVerifyBundleSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	dir, raw := writeBundle(t, bundleFiles, nil)
	sig := ed25519.Sign(priv, raw)

	if _, err := VerifyBundle(dir, pubB64); !errors.Is(err, ErrBundleIntegrity) {
		t.Fatalf("expected failure without manifest.sig, got %v", err)
	}

	sigJSON, _ := json.Marshal(manifestSignature{Algorithm: "ed25519", Signature: base64.StdEncoding.EncodeToString(sig)})
	if err := os.WriteFile(filepath.Join(dir, signatureFile), sigJSON, 0o600); err != nil {
		t.Fatalf("write sig: %v", err)
	}
	if _, err := VerifyBundle(dir, pubB64); err != nil {
		t.Fatalf("json signature: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, signatureFile), []byte(hex.EncodeToString(sig)), 0o600); err != nil {
		t.Fatalf("write sig: %v", err)
	}
	if _, err := VerifyBundle(dir, pubB64); err != nil {
		t.Fatalf("hex signature: %v", err)
	}

	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	if _, err := VerifyBundle(dir, base64.StdEncoding.EncodeToString(otherPub)); !errors.Is(err, ErrBundleIntegrity) {
		t.Fatalf("expected wrong key to fail, got %v", err)
	}
}

func TestLoadONNXLabelerVerifiesFirst(t *testing.T) {
	dir, _ := writeBundle(t, bundleFiles, func(m *Manifest) { m.Files[0].Size = 1 })
	_, err := LoadONNXLabeler(ONNXConfig{BundleDir: dir, Verify: true})
	if !errors.Is(err, ErrBundleIntegrity) {
		t.Fatalf("expected integrity failure before model load, got %v", err)
	}
}
