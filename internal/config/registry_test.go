package config

import (
	"strings"
	"testing"

	"github.com/agnivade/levenshtein"
)

func seedRegistry(t *testing.T, keys ...string) {
	t.Helper()

	registryMu.Lock()
	original := registry
	registry = make(map[string]ConfigKeyInfo)
	for _, k := range keys {
		registry[k] = ConfigKeyInfo{Key: k}
	}
	registryMu.Unlock()

	t.Cleanup(func() {
		registryMu.Lock()
		registry = original
		registryMu.Unlock()
	})
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1       string
		s2       string
		expected int
	}{
		{"", "", 0},
		{"scope", "scope", 0},
		{"", "scope", 5},
		{"accessTokenLifetime", "accesTokenLifetime", 1},
		{"scopeRequired", "scopeRequire", 1},
		{"kitten", "sitting", 3}, // classic example
	}

	for _, tt := range tests {
		result := levenshtein.ComputeDistance(tt.s1, tt.s2)
		if result != tt.expected {
			t.Errorf("levenshtein.ComputeDistance(%q, %q) = %d, want %d", tt.s1, tt.s2, result, tt.expected)
		}
	}
}

func TestFindSimilarKeys(t *testing.T) {
	seedRegistry(t,
		"oauth.accessTokenLifetime",
		"oauth.refreshTokenLifetime",
		"oauth.authCodeLifetime",
		"oauth.scopeRequired",
		"oauth.jwt.signingKey",
	)

	tests := []struct {
		name           string
		key            string
		wantSuggestion string
	}{
		{
			name:           "typo in accessTokenLifetime",
			key:            "oauth.accesTokenLifetime",
			wantSuggestion: "oauth.accessTokenLifetime",
		},
		{
			name:           "typo in scopeRequired",
			key:            "oauth.scopeRequire",
			wantSuggestion: "oauth.scopeRequired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := FindSimilarKeys(tt.key, 3)

			found := false
			for _, result := range results {
				if result == tt.wantSuggestion {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("FindSimilarKeys(%q) = %v, want to include %q", tt.key, results, tt.wantSuggestion)
			}
		})
	}
}

func TestValidationWarningString(t *testing.T) {
	tests := []struct {
		name        string
		warning     ValidationWarning
		wantContain string
	}{
		{
			name: "single suggestion",
			warning: ValidationWarning{
				Key:         "oauth.scopeRequire",
				Suggestions: []string{"oauth.scopeRequired"},
			},
			wantContain: "Did you mean 'oauth.scopeRequired'?",
		},
		{
			name: "multiple suggestions",
			warning: ValidationWarning{
				Key:         "oauth.lifetime",
				Suggestions: []string{"oauth.accessTokenLifetime", "oauth.refreshTokenLifetime"},
			},
			wantContain: "Did you mean one of these?",
		},
		{
			name: "no suggestions",
			warning: ValidationWarning{
				Key:         "unknown.key",
				Suggestions: []string{},
			},
			wantContain: "'unknown.key' is not a known config key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.warning.String()
			if !strings.Contains(result, tt.wantContain) {
				t.Errorf("ValidationWarning.String() = %q, want to contain %q", result, tt.wantContain)
			}
		})
	}
}

func TestRegisterConfigKey(t *testing.T) {
	seedRegistry(t)

	info := ConfigKeyInfo{
		Key:         "test.key",
		Description: "Test key",
		Type:        "string",
	}
	RegisterConfigKey(info)

	if !IsRegisteredKey("test.key") {
		t.Error("RegisterConfigKey() failed to register key")
	}

	retrieved, ok := LookupConfigKey("test.key")
	if !ok {
		t.Error("LookupConfigKey() failed to retrieve registered key")
	}
	if retrieved.Description != "Test key" {
		t.Errorf("LookupConfigKey() returned wrong info: got %q, want %q", retrieved.Description, "Test key")
	}
}

func TestDefaultConfigs(t *testing.T) {
	seedRegistry(t)
	RegisterConfigKeys(
		ConfigKeyInfo{Key: "oauth.accessTokenLifetime", Default: "1h"},
		ConfigKeyInfo{Key: "oauth.issuer"},
	)

	defaults := DefaultConfigs()
	if defaults["oauth.accessTokenLifetime"] != "1h" {
		t.Errorf("DefaultConfigs() missing default, got %v", defaults)
	}
	if _, ok := defaults["oauth.issuer"]; ok {
		t.Error("DefaultConfigs() should omit keys without defaults")
	}
}

func TestGetPrefix(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"oauth.jwt.signingKey", "oauth.jwt"},
		{"oauth.issuer", "oauth"},
		{"simple", ""},
		{"one.two.three.four", "one.two.three"},
	}

	for _, tt := range tests {
		result := getPrefix(tt.key)
		if result != tt.expected {
			t.Errorf("getPrefix(%q) = %q, want %q", tt.key, result, tt.expected)
		}
	}
}
