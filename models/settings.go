package models

import "sort"

// BridgeSettingsKey is the key used in app_settings for the bridge policy blob.
const BridgeSettingsKey = "bridge_settings"

// InjectionRule adds headers and query parameters to requests whose hostname
// matches HostPattern. Values may reference credentials as ${NAME}.
type InjectionRule struct {
	HostPattern   string            `json:"hostPattern"`
	InjectHeaders map[string]string `json:"injectHeaders,omitempty"`
	InjectQuery   map[string]string `json:"injectQuery,omitempty"`
	Description   string            `json:"description,omitempty"`
}

// Settings is the persisted policy configuration.
type Settings struct {
	AllowedOrigins      []string          `json:"allowedOrigins"`
	AllowedDestinations []string          `json:"allowedDestinations"`
	Env                 map[string]string `json:"env"`
	InjectionRules      []InjectionRule   `json:"injectionRules"`
	MaxLogs             int               `json:"maxLogs"`
}

func (s Settings) Clone() Settings {
	out := Settings{
		AllowedOrigins:      append([]string(nil), s.AllowedOrigins...),
		AllowedDestinations: append([]string(nil), s.AllowedDestinations...),
		MaxLogs:             s.MaxLogs,
	}
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	for _, r := range s.InjectionRules {
		out.InjectionRules = append(out.InjectionRules, r.Clone())
	}
	return out
}

func (r InjectionRule) Clone() InjectionRule {
	out := InjectionRule{HostPattern: r.HostPattern, Description: r.Description}
	if r.InjectHeaders != nil {
		out.InjectHeaders = make(map[string]string, len(r.InjectHeaders))
		for k, v := range r.InjectHeaders {
			out.InjectHeaders[k] = v
		}
	}
	if r.InjectQuery != nil {
		out.InjectQuery = make(map[string]string, len(r.InjectQuery))
		for k, v := range r.InjectQuery {
			out.InjectQuery[k] = v
		}
	}
	return out
}

// SettingsView is what the API and CLI show: credential names, never values.
type SettingsView struct {
	AllowedOrigins      []string        `json:"allowedOrigins"`
	AllowedDestinations []string        `json:"allowedDestinations"`
	EnvNames            []string        `json:"envNames"`
	InjectionRules      []InjectionRule `json:"injectionRules"`
	MaxLogs             int             `json:"maxLogs"`
}

func (s Settings) View(configured []string) SettingsView {
	names := append([]string(nil), configured...)
	sort.Strings(names)
	return SettingsView{
		AllowedOrigins:      nonNil(s.AllowedOrigins),
		AllowedDestinations: nonNil(s.AllowedDestinations),
		EnvNames:            nonNil(names),
		InjectionRules:      s.InjectionRules,
		MaxLogs:             s.MaxLogs,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
