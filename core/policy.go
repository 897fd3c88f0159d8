package core

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"fetchbridge/models"
)

const redactedValue = "[injected]"

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_\-]+)\}`)

// IsOriginAllowed rejects an empty origin outright.
func IsOriginAllowed(origin string, allowList []string) bool {
	if origin == "" {
		return false
	}
	return MatchesAny(origin, allowList)
}

// IsDestinationAllowed matches patterns containing "://" against the full URL
// and all other patterns against the hostname only.
func IsDestinationAllowed(u *url.URL, allowList []string) bool {
	if u == nil {
		return false
	}
	full := u.String()
	host := u.Hostname()
	for _, p := range allowList {
		candidate := host
		if strings.Contains(p, "://") {
			candidate = full
		}
		if CompilePattern(p).Test(candidate) {
			return true
		}
	}
	return false
}

// ExpandTemplate substitutes ${NAME} placeholders. If any referenced
// credential is unset the whole template expands to "", even when other
// placeholders resolve, and callers skip the header or query key instead of
// sending a partial value such as "Bearer ".
func ExpandTemplate(template string, creds *CredentialStore) string {
	missing := false
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v := creds.Resolve(name)
		if v == "" {
			missing = true
		}
		return v
	})
	if missing {
		return ""
	}
	return strings.TrimSpace(out)
}

// InjectionResult names what ApplyInjectionRules added.
type InjectionResult struct {
	Headers []string
	Query   []string
}

func (r InjectionResult) Empty() bool {
	return len(r.Headers) == 0 && len(r.Query) == 0
}

// ApplyInjectionRules adds headers and query parameters from every rule whose
// host pattern matches u's hostname, in rule order. A key already present is
// never overwritten, so applying the same rules twice changes nothing.
func ApplyInjectionRules(u *url.URL, headers *Headers, rules []models.InjectionRule, creds *CredentialStore) InjectionResult {
	var res InjectionResult
	if u == nil || headers == nil {
		return res
	}
	host := u.Hostname()
	for _, rule := range rules {
		if rule.HostPattern == "" || !CompilePattern(rule.HostPattern).Test(host) {
			continue
		}
		for _, name := range sortedKeys(rule.InjectHeaders) {
			if headers.Has(name) {
				continue
			}
			value := ExpandTemplate(rule.InjectHeaders[name], creds)
			if value == "" {
				continue
			}
			headers.Set(name, value)
			res.Headers = append(res.Headers, name)
		}
		if len(rule.InjectQuery) == 0 {
			continue
		}
		existing, _ := url.ParseQuery(u.RawQuery)
		for _, key := range sortedKeys(rule.InjectQuery) {
			if _, ok := existing[key]; ok {
				continue
			}
			value := ExpandTemplate(rule.InjectQuery[key], creds)
			if value == "" {
				continue
			}
			pair := url.QueryEscape(key) + "=" + url.QueryEscape(value)
			if u.RawQuery == "" {
				u.RawQuery = pair
			} else {
				u.RawQuery += "&" + pair
			}
			existing[key] = []string{value}
			res.Query = append(res.Query, key)
		}
	}
	return res
}

// RedactURL returns u as a string with the listed query keys masked.
func RedactURL(u *url.URL, keys []string) string {
	if u == nil {
		return ""
	}
	if len(keys) == 0 {
		return u.String()
	}
	masked := map[string]bool{}
	for _, k := range keys {
		masked[k] = true
	}
	parts := strings.Split(u.RawQuery, "&")
	for i, part := range parts {
		k, _, _ := strings.Cut(part, "=")
		if name, err := url.QueryUnescape(k); err == nil && masked[name] {
			parts[i] = k + "=" + url.QueryEscape(redactedValue)
		}
	}
	c := *u
	c.RawQuery = strings.Join(parts, "&")
	return c.String()
}

// BuiltinInjectionRules are the provider defaults that run ahead of user rules.
func BuiltinInjectionRules() []models.InjectionRule {
	bearer := func(host, name, desc string) models.InjectionRule {
		return models.InjectionRule{
			HostPattern:   host,
			InjectHeaders: map[string]string{"Authorization": "Bearer ${" + name + "}"},
			Description:   desc,
		}
	}
	return []models.InjectionRule{
		bearer("api.openai.com", "OPENAI_API_KEY", "OpenAI"),
		{
			HostPattern:   "api.anthropic.com",
			InjectHeaders: map[string]string{"x-api-key": "${ANTHROPIC_API_KEY}"},
			Description:   "Anthropic",
		},
		{
			HostPattern: "generativelanguage.googleapis.com",
			InjectQuery: map[string]string{"key": "${GEMINI_API_KEY}"},
			Description: "Google Gemini",
		},
		bearer("api.groq.com", "GROQ_API_KEY", "Groq"),
		bearer("api.mistral.ai", "MISTRAL_API_KEY", "Mistral"),
		bearer("openrouter.ai", "OPENROUTER_API_KEY", "OpenRouter"),
		bearer("api.x.ai", "XAI_API_KEY", "xAI"),
		bearer("api.deepseek.com", "DEEPSEEK_API_KEY", "DeepSeek"),
		bearer("api.together.xyz", "TOGETHER_API_KEY", "Together"),
	}
}

// EffectiveRules prepends the built-in rules to the user's rules.
func EffectiveRules(user []models.InjectionRule) []models.InjectionRule {
	builtin := BuiltinInjectionRules()
	return append(builtin, user...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
