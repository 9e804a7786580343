package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"zord/internal/client"
)

const envServerURL = "ZORD_SERVER_URL"

// lookupEnv is swapped in tests.
var lookupEnv = os.LookupEnv

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "zord",
		Short:        "Chat with a Zord Coder daemon",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runChat,
	}
	pf := cmd.PersistentFlags()
	pf.String("server", "", "Daemon base URL (default $"+envServerURL+" or "+client.DefaultBaseURL+").")
	pf.String("client-id", "", "X-Client-ID to send (default: random per session).")
	pf.Float64("temperature", 0, "Sampling temperature (default: server's).")
	pf.Int("max-tokens", 0, "Max tokens per answer (default: server's).")
	pf.Bool("reasoning", false, "Ask the model to reason step by step.")
	pf.Bool("no-stream", false, "Wait for the full answer instead of streaming.")
	pf.String("language", "", "Preferred language for untagged code fences.")

	cmd.AddCommand(&cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	})
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newUsageCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func serverURL(cmd *cobra.Command) string {
	if cmd.Flags().Changed("server") {
		u, _ := cmd.Flags().GetString("server")
		return u
	}
	if v, ok := lookupEnv(envServerURL); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return client.DefaultBaseURL
}

func newClient(cmd *cobra.Command) *client.Client {
	id, _ := cmd.Flags().GetString("client-id")
	return client.New(serverURL(cmd), client.WithClientID(id))
}

// sessionSettings reads the generation flags. Unset numeric flags leave the
// server defaults in place.
func sessionSettings(cmd *cobra.Command) (settings, error) {
	fs := cmd.Flags()
	var s settings
	if fs.Changed("temperature") {
		v, _ := fs.GetFloat64("temperature")
		if v < 0 || v > maxTemperature {
			return s, fmt.Errorf("--temperature must be within [0, %.1f]", maxTemperature)
		}
		s.Temperature = &v
	}
	if fs.Changed("max-tokens") {
		n, _ := fs.GetInt("max-tokens")
		if n < 1 || n > maxTokensCap {
			return s, fmt.Errorf("--max-tokens must be within [1, %d]", maxTokensCap)
		}
		s.MaxTokens = &n
	}
	s.Reasoning, _ = fs.GetBool("reasoning")
	noStream, _ := fs.GetBool("no-stream")
	s.Stream = !noStream
	s.Language, _ = fs.GetString("language")
	return s, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	st, err := sessionSettings(cmd)
	if err != nil {
		return err
	}
	return newSession(newClient(cmd), cmd.OutOrStdout(), st).run(cmd.Context(), cmd.InOrStdin())
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>...",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sessionSettings(cmd)
			if err != nil {
				return err
			}
			s := newSession(newClient(cmd), cmd.OutOrStdout(), st)
			return s.ask(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print daemon health as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newClient(cmd).Health(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(h)
		},
	}
}

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Print today's quota usage for --client-id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := newClient(cmd).Usage(cmd.Context())
			if err != nil {
				return err
			}
			writeUsage(cmd.OutOrStdout(), u)
			return nil
		},
	}
}
