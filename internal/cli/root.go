package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "fernctl",
	Short: "Drive workspace user merges against a fern server",
	Long: `fernctl talks to the fern HTTP API. It runs single merges to completion by
re-issuing timed out or partially failed requests with the returned resume
coordinates, lists duplicate workspace users and merges them in bulk.

Every global flag can also be set with a FERN_ environment variable, for example
FERN_SERVER or FERN_USER.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// settings resolves global flags over FERN_* environment variables
var settings = viper.New()

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:3000", "Base URL of the fern server")
	rootCmd.PersistentFlags().String("user", "", "Caller user id sent as X-User-ID")
	rootCmd.PersistentFlags().String("token", "", "Bearer token, when the server has authentication enabled")
	rootCmd.PersistentFlags().Duration("timeout", 6*time.Minute, "Timeout of a single HTTP request")

	settings.SetEnvPrefix("FERN")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	_ = settings.BindPFlags(rootCmd.PersistentFlags())
}

func newClient() *Client {
	return NewClient(
		settings.GetString("server"),
		settings.GetString("user"),
		settings.GetString("token"),
		settings.GetDuration("timeout"),
	)
}
