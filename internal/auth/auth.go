// Package auth maps API keys to workspaces.
package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/straja-ai/piiscope/internal/config"
)

// DefaultWorkspace serves unauthenticated requests when keys are optional.
const DefaultWorkspace = "default"

// Workspace is the runtime representation of a configured workspace.
type Workspace struct {
	ID string
}

type hashedKey struct {
	hash      []byte
	workspace Workspace
}

// Auth holds mappings from API keys to workspaces.
type Auth struct {
	requireKey bool
	plain      map[string]Workspace
	hashed     []hashedKey

	// bcrypt is slow; successful comparisons are remembered by key digest.
	mu    sync.RWMutex
	cache map[[sha256.Size]byte]Workspace
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	a := &Auth{
		requireKey: cfg.Security.RequireAPIKey,
		plain:      make(map[string]Workspace),
		cache:      make(map[[sha256.Size]byte]Workspace),
	}

	for _, w := range cfg.Workspaces {
		if strings.TrimSpace(w.ID) == "" {
			return nil, fmt.Errorf("workspace with empty id in config")
		}
		ws := Workspace{ID: w.ID}
		for _, key := range w.APIKeys {
			if key == "" {
				continue
			}
			if isBcrypt(key) {
				if _, err := bcrypt.Cost([]byte(key)); err != nil {
					return nil, fmt.Errorf("workspace %q: invalid bcrypt hash: %w", w.ID, err)
				}
				a.hashed = append(a.hashed, hashedKey{hash: []byte(key), workspace: ws})
				continue
			}
			if _, exists := a.plain[key]; exists {
				return nil, fmt.Errorf("api key is assigned to multiple workspaces (%q)", w.ID)
			}
			a.plain[key] = ws
		}
	}

	return a, nil
}

// RequireKey reports whether anonymous requests are rejected.
func (a *Auth) RequireKey() bool {
	return a != nil && a.requireKey
}

// Lookup returns the workspace for a given API key, if any.
func (a *Auth) Lookup(apiKey string) (Workspace, bool) {
	if a == nil || apiKey == "" {
		return Workspace{}, false
	}
	if w, ok := a.plain[apiKey]; ok {
		return w, true
	}
	if len(a.hashed) == 0 {
		return Workspace{}, false
	}

	digest := sha256.Sum256([]byte(apiKey))
	a.mu.RLock()
	w, ok := a.cache[digest]
	a.mu.RUnlock()
	if ok {
		return w, true
	}
	for _, hk := range a.hashed {
		if bcrypt.CompareHashAndPassword(hk.hash, []byte(apiKey)) == nil {
			a.mu.Lock()
			a.cache[digest] = hk.workspace
			a.mu.Unlock()
			return hk.workspace, true
		}
	}
	return Workspace{}, false
}

// Resolve maps an optional key to a workspace: a known key resolves to its
// workspace, no key resolves to DefaultWorkspace unless keys are required.
// An unknown key never falls back.
func (a *Auth) Resolve(apiKey string) (Workspace, bool) {
	if apiKey == "" {
		if a.RequireKey() {
			return Workspace{}, false
		}
		return Workspace{ID: DefaultWorkspace}, true
	}
	return a.Lookup(apiKey)
}

// HashKey returns a bcrypt hash suitable for the api_keys config list.
func HashKey(apiKey string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
