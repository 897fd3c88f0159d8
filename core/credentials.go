package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// credentialAliases maps historical credential names to their canonical name.
var credentialAliases = map[string]string{
	"CLAUDE_API_KEY":    "ANTHROPIC_API_KEY",
	"GOOGLE_API_KEY":    "GEMINI_API_KEY",
	"GOOGLE_AI_API_KEY": "GEMINI_API_KEY",
}

// CanonicalCredentialName upper-cases a name and folds aliases onto their
// canonical spelling.
func CanonicalCredentialName(name string) string {
	n := normalizeCredentialName(name)
	if canonical, ok := credentialAliases[n]; ok {
		return canonical
	}
	return n
}

func normalizeCredentialName(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	return strings.NewReplacer("-", "_", " ", "_").Replace(n)
}

// partners lists every spelling that shares a canonical name with name,
// starting with name itself.
func partners(name string) []string {
	n := normalizeCredentialName(name)
	canonical := CanonicalCredentialName(n)
	out := []string{n}
	if canonical != n {
		out = append(out, canonical)
	}
	aliases := make([]string, 0, 2)
	for alias, c := range credentialAliases {
		if c == canonical && alias != n {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	return append(out, aliases...)
}

// CredentialStore resolves named secrets. Formatting or encoding a store only
// ever reveals the configured names. The zero value is an empty store.
type CredentialStore struct {
	values map[string]string
}

func NewCredentialStore(env map[string]string) *CredentialStore {
	values := make(map[string]string, len(env))
	for k, v := range env {
		if strings.TrimSpace(v) == "" {
			continue
		}
		values[normalizeCredentialName(k)] = strings.TrimSpace(v)
	}
	return &CredentialStore{values: values}
}

// Resolve returns the value for name, falling back to its alias partners.
// Unset names resolve to "".
func (s CredentialStore) Resolve(name string) string {
	for _, candidate := range partners(name) {
		if v, ok := s.values[candidate]; ok {
			return v
		}
	}
	return ""
}

func (s CredentialStore) IsSet(name string) bool {
	return s.Resolve(name) != ""
}

// ConfiguredNames lists canonical names with a non-empty value, sorted.
func (s CredentialStore) ConfiguredNames() []string {
	seen := make(map[string]bool, len(s.values))
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		c := CanonicalCredentialName(k)
		if !seen[c] {
			seen[c] = true
			names = append(names, c)
		}
	}
	sort.Strings(names)
	return names
}

func (s CredentialStore) String() string {
	return fmt.Sprintf("CredentialStore%v", s.ConfiguredNames())
}

func (s CredentialStore) GoString() string {
	return s.String()
}

func (s CredentialStore) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Configured []string `json:"configured"`
	}{s.ConfiguredNames()})
}
