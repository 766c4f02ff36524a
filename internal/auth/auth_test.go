package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/straja-ai/piiscope/internal/config"
)

func TestLookupPlainAndHashedKeys(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := &config.Config{
		Security: config.SecurityConfig{RequireAPIKey: true},
		Workspaces: []config.WorkspaceConfig{
			{ID: "ops", APIKeys: []string{"plain-key"}},
			{ID: "qa", APIKeys: []string{string(hash)}},
		},
	}
	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if w, ok := a.Lookup("plain-key"); !ok || w.ID != "ops" {
		t.Fatalf("expected ops, got %+v ok=%v", w, ok)
	}
	for i := 0; i < 2; i++ {
		if w, ok := a.Lookup("hashed-key"); !ok || w.ID != "qa" {
			t.Fatalf("lookup %d: expected qa, got %+v ok=%v", i, w, ok)
		}
	}
	if _, ok := a.Lookup("nope"); ok {
		t.Fatalf("unknown key should not resolve")
	}
	if _, ok := a.Resolve(""); ok {
		t.Fatalf("anonymous request should be rejected when keys are required")
	}
}

func TestResolveAnonymousDefault(t *testing.T) {
	a, err := NewFromConfig(&config.Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w, ok := a.Resolve("")
	if !ok || w.ID != DefaultWorkspace {
		t.Fatalf("expected default workspace, got %+v ok=%v", w, ok)
	}
	if _, ok := a.Resolve("made-up"); ok {
		t.Fatalf("unknown key must not fall back to default")
	}
}

func TestNewFromConfigRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		cfg  *config.Config
	}{
		{"empty id", &config.Config{Workspaces: []config.WorkspaceConfig{{ID: " "}}}},
		{"duplicate key", &config.Config{Workspaces: []config.WorkspaceConfig{
			{ID: "a", APIKeys: []string{"k"}},
			{ID: "b", APIKeys: []string{"k"}},
		}}},
		{"broken hash", &config.Config{Workspaces: []config.WorkspaceConfig{{ID: "a", APIKeys: []string{"$2a$xx"}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFromConfig(tc.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestHashKeyRoundTrip(t *testing.T) {
	h, err := HashKey("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !isBcrypt(h) {
		t.Fatalf("expected bcrypt prefix, got %q", h)
	}
	a, err := NewFromConfig(&config.Config{Workspaces: []config.WorkspaceConfig{{ID: "ops", APIKeys: []string{h}}}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if w, ok := a.Lookup("secret"); !ok || w.ID != "ops" {
		t.Fatalf("expected ops, got %+v ok=%v", w, ok)
	}
}
