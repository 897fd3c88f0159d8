package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"fetchbridge/core"
	"fetchbridge/database"
	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/spf13/cobra"
)

var (
	addRuleHeaders     []string
	addRuleQuery       []string
	addRuleDescription string
	settingsShowJSON   bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change the bridge policy",
	Long: `Manages the allow-lists, credentials and injection rules stored in the
database. A running bridge picks changes up on its next start; use the HTTP
API (PUT /api/settings) to change a live bridge.`,
}

// updateSettings loads the stored policy, applies mutate and saves it back.
func updateSettings(mutate func(*models.Settings) error) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if err := mutate(&s); err != nil {
		return err
	}
	if err := database.SaveBridgeSettings(s); err != nil {
		logger.Error("Failed to save bridge settings: %v", err)
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		seen := false
		for _, existing := range list {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			list = append(list, v)
		}
	}
	return list
}

func parsePairs(pairs []string, sep string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, sep)
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%q must be in 'name%svalue' form", p, sep)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the policy (credential values are never printed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		view := s.View(core.NewCredentialStore(s.Env).ConfiguredNames())
		out := cmd.OutOrStdout()
		if settingsShowJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}
		fmt.Fprintf(out, "Allowed origins:      %s\n", strings.Join(view.AllowedOrigins, ", "))
		fmt.Fprintf(out, "Allowed destinations: %s\n", strings.Join(view.AllowedDestinations, ", "))
		fmt.Fprintf(out, "Credentials:          %s\n", strings.Join(view.EnvNames, ", "))
		fmt.Fprintf(out, "Max log entries:      %d\n", view.MaxLogs)
		fmt.Fprintf(out, "Injection rules:      %d\n", len(view.InjectionRules))
		for i, r := range view.InjectionRules {
			fmt.Fprintf(out, "  [%d] %s", i, r.HostPattern)
			if r.Description != "" {
				fmt.Fprintf(out, "  (%s)", r.Description)
			}
			fmt.Fprintln(out)
			for _, name := range sortedHeaderNames(r.InjectHeaders) {
				fmt.Fprintf(out, "      header %s: %s\n", name, r.InjectHeaders[name])
			}
			for _, name := range sortedHeaderNames(r.InjectQuery) {
				fmt.Fprintf(out, "      query  %s=%s\n", name, r.InjectQuery[name])
			}
		}
		return nil
	},
}

var settingsNamesCmd = &cobra.Command{
	Use:   "names",
	Short: "List configured credential names",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		for _, name := range core.NewCredentialStore(s.Env).ConfiguredNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var settingsSetEnvCmd = &cobra.Command{
	Use:   "set-env <NAME> [value]",
	Short: "Store a credential; the value is read from stdin when omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := core.CanonicalCredentialName(args[0])
		value := ""
		if len(args) == 2 {
			value = args[1]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading value for %s from stdin: %w", name, err)
			}
			value = strings.TrimRight(line, "\r\n")
		}
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("value for %s is empty; use unset-env to remove it", name)
		}
		err := updateSettings(func(s *models.Settings) error {
			if s.Env == nil {
				s.Env = map[string]string{}
			}
			s.Env[name] = value
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info("Credential %s set from CLI", name)
		fmt.Fprintf(cmd.OutOrStdout(), "%s set.\n", name)
		return nil
	},
}

var settingsUnsetEnvCmd = &cobra.Command{
	Use:   "unset-env <NAME>",
	Short: "Remove a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := core.CanonicalCredentialName(args[0])
		removed := false
		err := updateSettings(func(s *models.Settings) error {
			for _, k := range []string{name, args[0]} {
				if _, ok := s.Env[k]; ok {
					delete(s.Env, k)
					removed = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s was not set.\n", name)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s removed.\n", name)
		return nil
	},
}

var settingsAllowOriginCmd = &cobra.Command{
	Use:   "allow-origin <pattern>...",
	Short: "Add page origin patterns to the allow-list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateSettings(func(s *models.Settings) error {
			s.AllowedOrigins = appendUnique(s.AllowedOrigins, args...)
			fmt.Fprintf(cmd.OutOrStdout(), "Allowed origins: %s\n", strings.Join(s.AllowedOrigins, ", "))
			return nil
		})
	},
}

var settingsAllowDestinationCmd = &cobra.Command{
	Use:   "allow-destination <pattern>...",
	Short: "Add destination host patterns to the allow-list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateSettings(func(s *models.Settings) error {
			s.AllowedDestinations = appendUnique(s.AllowedDestinations, args...)
			fmt.Fprintf(cmd.OutOrStdout(), "Allowed destinations: %s\n", strings.Join(s.AllowedDestinations, ", "))
			return nil
		})
	},
}

var settingsAddRuleCmd = &cobra.Command{
	Use:   "add-rule <host-pattern>",
	Short: "Add an injection rule",
	Example: `  fetchbridge settings add-rule 'api.example.org' -H 'Authorization: Bearer ${EXAMPLE_KEY}'
  fetchbridge settings add-rule '*.maps.example.com' -q 'key=${MAPS_KEY}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		headers, err := parsePairs(addRuleHeaders, ":")
		if err != nil {
			return err
		}
		query, err := parsePairs(addRuleQuery, "=")
		if err != nil {
			return err
		}
		if len(headers) == 0 && len(query) == 0 {
			return fmt.Errorf("a rule needs at least one --header or --query")
		}
		rule := models.InjectionRule{
			HostPattern:   strings.TrimSpace(args[0]),
			InjectHeaders: headers,
			InjectQuery:   query,
			Description:   addRuleDescription,
		}
		return updateSettings(func(s *models.Settings) error {
			s.InjectionRules = append(s.InjectionRules, rule)
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %d added for %s.\n", len(s.InjectionRules)-1, rule.HostPattern)
			return nil
		})
	},
}

var settingsRemoveRuleCmd = &cobra.Command{
	Use:   "remove-rule <index>",
	Short: "Remove an injection rule by its index in 'settings show'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule index %q", args[0])
		}
		return updateSettings(func(s *models.Settings) error {
			if idx < 0 || idx >= len(s.InjectionRules) {
				return fmt.Errorf("rule index %d out of range (0-%d)", idx, len(s.InjectionRules)-1)
			}
			s.InjectionRules = append(s.InjectionRules[:idx], s.InjectionRules[idx+1:]...)
			return nil
		})
	},
}

var settingsMaxLogsCmd = &cobra.Command{
	Use:   "max-logs <n>",
	Short: "Set the number of audit entries kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("max-logs must be a positive integer, got %q", args[0])
		}
		return updateSettings(func(s *models.Settings) error {
			s.MaxLogs = n
			return nil
		})
	},
}

func init() {
	settingsShowCmd.Flags().BoolVar(&settingsShowJSON, "json", false, "print as JSON")
	settingsAddRuleCmd.Flags().StringArrayVarP(&addRuleHeaders, "header", "H", nil, "header to inject, 'Name: template' (repeatable)")
	settingsAddRuleCmd.Flags().StringArrayVarP(&addRuleQuery, "query", "q", nil, "query parameter to inject, 'name=template' (repeatable)")
	settingsAddRuleCmd.Flags().StringVar(&addRuleDescription, "description", "", "free-form note shown in 'settings show'")

	settingsCmd.AddCommand(
		settingsShowCmd,
		settingsNamesCmd,
		settingsSetEnvCmd,
		settingsUnsetEnvCmd,
		settingsAllowOriginCmd,
		settingsAllowDestinationCmd,
		settingsAddRuleCmd,
		settingsRemoveRuleCmd,
		settingsMaxLogsCmd,
	)
	rootCmd.AddCommand(settingsCmd)
}
