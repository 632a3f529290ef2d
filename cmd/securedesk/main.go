// Command securedesk is the session-core CLI: it runs either the host
// (controlled machine) or client (controlling machine) role against a
// configured relay, using a cobra root command with signal-driven
// graceful shutdown in each subcommand.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "securedesk",
	Short: "Privacy-preserving remote desktop session core",
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	rootCmd.AddCommand(hostCmd, clientCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("[securedesk] execute command")
	}
}
