package ner

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	manifestFile  = "manifest.json"
	signatureFile = "manifest.sig"
)

// ErrBundleIntegrity is wrapped by every verification failure.
var ErrBundleIntegrity = errors.New("model bundle integrity check failed")

// ManifestFile describes one file entry in manifest.json.
type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest mirrors manifest.json.
type Manifest struct {
	Model   string         `json:"model"`
	Version string         `json:"version"`
	Files   []ManifestFile `json:"files"`
}

// manifestSignature is the JSON form of manifest.sig; a bare base64 or hex
// string is accepted too.
type manifestSignature struct {
	Algorithm string `json:"algorithm"`
	Signature string `json:"signature"`
}

// VerifyBundle checks every file listed in <dir>/manifest.json against its
// size and sha256. When publicKey is non-empty (base64 ed25519) the manifest
// must also carry a valid manifest.sig.
func VerifyBundle(dir, publicKey string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrBundleIntegrity, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrBundleIntegrity, err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("%w: manifest lists no files", ErrBundleIntegrity)
	}

	if strings.TrimSpace(publicKey) != "" {
		if err := verifySignature(dir, raw, publicKey); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBundleIntegrity, err)
		}
	}

	for _, f := range m.Files {
		if err := verifyFile(dir, f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBundleIntegrity, err)
		}
	}
	return &m, nil
}

func verifyFile(dir string, f ManifestFile) error {
	local, err := bundlePath(dir, f.Path)
	if err != nil {
		return err
	}
	fh, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer fh.Close()

	h := sha256.New()
	n, err := io.Copy(h, fh)
	if err != nil {
		return fmt.Errorf("hash %s: %w", f.Path, err)
	}
	if f.Size > 0 && n != f.Size {
		return fmt.Errorf("size mismatch for %s: expected %d got %d", f.Path, f.Size, n)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if f.SHA256 != "" && !strings.EqualFold(sum, f.SHA256) {
		return fmt.Errorf("sha256 mismatch for %s", f.Path)
	}
	return nil
}

// bundlePath keeps manifest entries inside dir.
func bundlePath(dir, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("manifest path %q escapes the bundle", rel)
	}
	return filepath.Join(dir, clean), nil
}

func verifySignature(dir string, manifest []byte, publicKey string) error {
	pk, err := decodeBase64(publicKey)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(pk) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key length: %d", len(pk))
	}

	data, err := os.ReadFile(filepath.Join(dir, signatureFile))
	if err != nil {
		return fmt.Errorf("read manifest signature: %w", err)
	}
	encoded, alg := strings.TrimSpace(string(data)), "ed25519"
	var sig manifestSignature
	if json.Unmarshal(data, &sig) == nil && strings.TrimSpace(sig.Signature) != "" {
		encoded = strings.TrimSpace(sig.Signature)
		if sig.Algorithm != "" {
			alg = strings.ToLower(strings.TrimSpace(sig.Algorithm))
		}
	}
	if alg != "ed25519" {
		return fmt.Errorf("unsupported signature algorithm %q", alg)
	}

	sigBytes, err := decodeSignature(encoded)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pk), manifest, sigBytes) {
		return errors.New("manifest signature verification failed")
	}
	return nil
}

func decodeSignature(v string) ([]byte, error) {
	if b, err := hex.DecodeString(v); err == nil && len(b) == ed25519.SignatureSize {
		return b, nil
	}
	b, err := decodeBase64(v)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature has %d bytes, want %d", len(b), ed25519.SignatureSize)
	}
	return b, nil
}

func decodeBase64(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, errors.New("value is empty")
	}
	for _, dec := range []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	} {
		if b, err := dec(v); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not valid base64")
}
