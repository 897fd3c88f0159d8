package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"fetchbridge/models"

	"github.com/spf13/cobra"
)

var (
	fetchMethod    string
	fetchHeaders   []string
	fetchBody      string
	fetchOrigin    string
	fetchTimeoutMs int
	fetchRetries   int
	fetchRaw       bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Performs one mediated request through the bridge policy",
	Long: `Runs a single request exactly as a page would: origin and destination
allow-lists apply, credentials are injected and the request is recorded in
the audit log.`,
	Example: `  # GET as the page https://app.example.com would
  fetchbridge fetch https://api.openai.com/v1/models --origin https://app.example.com

  # POST JSON with an extra header and print the raw envelope
  fetchbridge fetch https://api.example.org/items -X POST \
    -H 'Content-Type: application/json' -d '{"name":"a"}' \
    --origin https://app.example.com --raw`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bridge, _, err := newBridge()
		if err != nil {
			return err
		}

		payload := models.FetchPayload{
			URL:        args[0],
			PageOrigin: fetchOrigin,
			Init:       models.RequestInit{Method: strings.ToUpper(fetchMethod)},
		}
		for _, h := range fetchHeaders {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("header %q must be in 'Name: value' form", h)
			}
			payload.Init.Headers = append(payload.Init.Headers, models.HeaderField{
				Name: strings.TrimSpace(name), Value: strings.TrimSpace(value),
			})
		}
		if cmd.Flags().Changed("data") {
			payload.Init.Body = models.TextBody(fetchBody)
		}
		if fetchTimeoutMs > 0 || fetchRetries > 1 {
			payload.Init.Options = &models.FetchOptions{}
			if fetchTimeoutMs > 0 {
				payload.Init.Options.TimeoutMs = &fetchTimeoutMs
			}
			if fetchRetries > 1 {
				payload.Init.Options.Retry = &models.RetryOptions{MaxAttempts: fetchRetries}
			}
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		env := bridge.Fetch(ctx, payload, -1)

		if fetchRaw {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(env)
		}
		printEnvelope(cmd, env)
		if !env.OK {
			return fmt.Errorf("request did not succeed")
		}
		return nil
	},
}

func printEnvelope(cmd *cobra.Command, env models.Envelope) {
	out := cmd.OutOrStdout()
	resp := env.Response
	if resp == nil {
		fmt.Fprintf(out, "Error: %s\n", env.Error)
		return
	}
	fmt.Fprintf(out, "%d %s (%s, %dms)\n", resp.Status, resp.StatusText, resp.Stage, resp.ElapsedMs)
	if resp.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", resp.Error)
	}
	for _, name := range sortedHeaderNames(resp.Headers) {
		fmt.Fprintf(out, "%s: %s\n", name, resp.Headers[name])
	}
	fmt.Fprintln(out)
	if resp.Binary {
		fmt.Fprintf(out, "(%d bytes of binary content)\n", len(resp.BodyBytes))
		return
	}
	printBody(out, resp.BodyText, resp.Headers["content-type"])
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchMethod, "method", "X", "GET", "HTTP method")
	fetchCmd.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, "request header 'Name: value' (repeatable)")
	fetchCmd.Flags().StringVarP(&fetchBody, "data", "d", "", "request body text")
	fetchCmd.Flags().StringVar(&fetchOrigin, "origin", "", "page origin to present (must be allow-listed)")
	fetchCmd.Flags().IntVar(&fetchTimeoutMs, "timeout-ms", 0, "per-request timeout in milliseconds (default from config)")
	fetchCmd.Flags().IntVar(&fetchRetries, "attempts", 1, "maximum attempts including the first")
	fetchCmd.Flags().BoolVar(&fetchRaw, "raw", false, "print the response envelope as JSON")
	rootCmd.AddCommand(fetchCmd)
}
