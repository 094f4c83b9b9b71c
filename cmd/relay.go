package cmd

import (
	"log/slog"
	"os"

	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/BioHazard786/warpmesh/internal/relay"
	"github.com/spf13/cobra"
)

var (
	flagAddr       string
	flagRelayToken string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay",
	Long: `Run the signaling relay that participants join rooms on.

Serves the websocket at /ws, a health check at /health and Prometheus
metrics at /metrics.

Examples:
  warpmesh relay
  warpmesh relay --addr :9000 --token s3cret`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
			level = logging.ParseLevel(l)
		}
		token := flagRelayToken
		if token == "" {
			token = os.Getenv("WARPMESH_RELAY_TOKEN")
		}
		return relay.ListenAndServe(cmd.Context(), flagAddr, token, logging.New(os.Stderr, level))
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagAddr, "addr", "a", ":8080", "Address to listen on")
	relayCmd.Flags().StringVar(&flagRelayToken, "token", "", "Require this bearer token from clients")
}
