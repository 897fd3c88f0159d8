package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"fetchbridge/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatching(t *testing.T) {
	tests := []struct {
		pattern, candidate string
		want               bool
	}{
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "API.Example.COM", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "api.example.com.evil.net", false},
		{"*", "", true},
		{"*", "anything at all", true},
		{"", "", true},
		{"", "x", false},
		{"api.example.com", "apiXexample.com", false},
		{"a+b(c)?", "a+b(c)?", true},
		{"https://*.example.com/v1/*", "https://api.example.com/v1/chat", true},
		{"line*end", "line\nend", true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s~%s", tc.pattern, tc.candidate), func(t *testing.T) {
			assert.Equal(t, tc.want, CompilePattern(tc.pattern).Test(tc.candidate))
		})
	}
	assert.False(t, MatchesAny("x", nil))
	assert.True(t, MatchesAny("b.com", []string{"a.com", "b.com"}))
}

func TestCredentialStoreAliases(t *testing.T) {
	store := NewCredentialStore(map[string]string{
		"CLAUDE_API_KEY": "sk-ant",
		"OPENAI_API_KEY": "  sk-oai  ",
		"EMPTY_KEY":      "   ",
	})
	assert.Equal(t, "sk-ant", store.Resolve("ANTHROPIC_API_KEY"))
	assert.Equal(t, "sk-ant", store.Resolve("claude_api_key"))
	assert.Equal(t, "sk-oai", store.Resolve("OPENAI_API_KEY"))
	assert.Equal(t, "", store.Resolve("EMPTY_KEY"))
	assert.False(t, store.IsSet("EMPTY_KEY"))
	assert.Equal(t, []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"}, store.ConfiguredNames())

	canonicalOnly := NewCredentialStore(map[string]string{"GEMINI_API_KEY": "g"})
	assert.Equal(t, "g", canonicalOnly.Resolve("GOOGLE_API_KEY"))
}

func TestCredentialStoreNeverPrintsValues(t *testing.T) {
	store := NewCredentialStore(map[string]string{"OPENAI_API_KEY": "sk-secret"})
	copied := *store
	for _, s := range []string{
		fmt.Sprint(store), fmt.Sprintf("%+v", store), fmt.Sprintf("%#v", store),
		fmt.Sprint(copied), fmt.Sprintf("%+v", copied), fmt.Sprintf("%#v", copied),
	} {
		assert.NotContains(t, s, "sk-secret")
		assert.Contains(t, s, "OPENAI_API_KEY")
	}
	for _, v := range []interface{}{store, copied} {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		assert.JSONEq(t, `{"configured":["OPENAI_API_KEY"]}`, string(b))
	}
}

func TestCredentialStoreZeroValue(t *testing.T) {
	var store CredentialStore
	assert.Equal(t, "", store.Resolve("OPENAI_API_KEY"))
	assert.False(t, store.IsSet("OPENAI_API_KEY"))
	assert.Empty(t, store.ConfiguredNames())
	assert.Equal(t, "", ExpandTemplate("Bearer ${OPENAI_API_KEY}", &store))
}

func TestOriginAndDestinationPolicy(t *testing.T) {
	assert.False(t, IsOriginAllowed("", []string{"*"}))
	assert.True(t, IsOriginAllowed("https://app.example.com", []string{"https://*.example.com"}))

	u, _ := url.Parse("https://api.openai.com/v1/chat?x=1")
	assert.True(t, IsDestinationAllowed(u, []string{"api.openai.com"}))
	assert.True(t, IsDestinationAllowed(u, []string{"https://api.openai.com/v1/*"}))
	assert.False(t, IsDestinationAllowed(u, []string{"https://api.openai.com/v2/*"}))
	assert.False(t, IsDestinationAllowed(u, nil))
}

func TestExpandTemplate(t *testing.T) {
	store := NewCredentialStore(map[string]string{"A": "1"})
	assert.Equal(t, "Bearer 1", ExpandTemplate("Bearer ${A}", store))
	assert.Equal(t, "", ExpandTemplate("Bearer ${B}", store))
	assert.Equal(t, "", ExpandTemplate("${A}:${B}", store), "one unset placeholder blanks the whole value")
	assert.Equal(t, "static", ExpandTemplate(" static ", store))
}

func TestApplyInjectionRulesFirstWriterWins(t *testing.T) {
	store := NewCredentialStore(map[string]string{"OPENAI_API_KEY": "sk-1", "OTHER": "sk-2"})
	rules := EffectiveRules([]models.InjectionRule{
		{HostPattern: "api.openai.com", InjectHeaders: map[string]string{"Authorization": "Bearer ${OTHER}", "X-Org": "org"}},
	})
	u, _ := url.Parse("https://api.openai.com/v1/chat")
	h := NewHeaders(nil)

	res := ApplyInjectionRules(u, h, rules, store)
	v, _ := h.Get("authorization")
	assert.Equal(t, "Bearer sk-1", v)
	org, _ := h.Get("X-Org")
	assert.Equal(t, "org", org)
	assert.ElementsMatch(t, []string{"Authorization", "X-Org"}, res.Headers)

	again := ApplyInjectionRules(u, h, rules, store)
	assert.True(t, again.Empty())
	assert.Equal(t, 2, h.Len())
}

func TestApplyInjectionRulesKeepsCallerHeaders(t *testing.T) {
	store := NewCredentialStore(map[string]string{"OPENAI_API_KEY": "sk-1"})
	u, _ := url.Parse("https://api.openai.com/v1")
	h := NewHeaders(models.HeaderList{{Name: "authorization", Value: "Bearer mine"}})
	ApplyInjectionRules(u, h, BuiltinInjectionRules(), store)
	v, _ := h.Get("Authorization")
	assert.Equal(t, "Bearer mine", v)
}

func TestApplyInjectionRulesQuery(t *testing.T) {
	store := NewCredentialStore(map[string]string{"GOOGLE_API_KEY": "g key"})
	u, _ := url.Parse("https://generativelanguage.googleapis.com/v1/models?b=2&a=1")
	h := NewHeaders(nil)
	res := ApplyInjectionRules(u, h, BuiltinInjectionRules(), store)
	assert.Equal(t, []string{"key"}, res.Query)
	assert.Equal(t, "b=2&a=1&key=g+key", u.RawQuery)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1/models?b=2&a=1&key=%5Binjected%5D", RedactURL(u, res.Query))

	ApplyInjectionRules(u, h, BuiltinInjectionRules(), store)
	assert.Equal(t, "b=2&a=1&key=g+key", u.RawQuery)

	preset, _ := url.Parse("https://generativelanguage.googleapis.com/v1?key=mine")
	ApplyInjectionRules(preset, h, BuiltinInjectionRules(), store)
	assert.Equal(t, "key=mine", preset.RawQuery)
}

func TestApplyInjectionRulesSkipsUnsetCredentials(t *testing.T) {
	u, _ := url.Parse("https://api.openai.com/v1")
	h := NewHeaders(nil)
	res := ApplyInjectionRules(u, h, BuiltinInjectionRules(), NewCredentialStore(nil))
	assert.True(t, res.Empty())
	assert.Equal(t, 0, h.Len())
}

func TestHeadersFoldDuplicates(t *testing.T) {
	h := NewHeaders(models.HeaderList{{Name: "Accept", Value: "a"}, {Name: "accept", Value: "b"}})
	assert.Equal(t, 1, h.Len())
	v, _ := h.Get("ACCEPT")
	assert.Equal(t, "a, b", v)
	assert.Equal(t, map[string]string{"Accept": "a, b"}, h.Map())
	h.Del("accept")
	assert.Equal(t, 0, h.Len())
}
