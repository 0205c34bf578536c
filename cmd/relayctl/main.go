// Command relayctl talks to a running relay: it can sit in a room and print
// traffic, push a caption, or list rooms.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"babel/relay/internal/logging"
)

var flagServer string

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Operator tool for the signaling relay",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(os.Getenv("LOG_LEVEL"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("RELAY_URL", "http://localhost:8000"), "Relay base URL")
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// httpURL returns the admin base URL without a trailing slash.
func httpURL() string {
	return strings.TrimSuffix(flagServer, "/")
}

// wsURL maps the base URL to the signaling endpoint.
func wsURL() string {
	u := httpURL()
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
