package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/dotsync/cmd/config"
	pullCmd "github.com/sidkik/dotsync/cmd/pull"
	pushCmd "github.com/sidkik/dotsync/cmd/push"
	"github.com/sidkik/dotsync/cmd/status"
	"github.com/sidkik/dotsync/cmd/unlock"
	"github.com/sidkik/dotsync/cmd/util"
	"github.com/sidkik/dotsync/cmd/version"
	"github.com/sidkik/dotsync/pkg/config"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "DOTSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "dotsync",
		Short:        "Keep a configuration repository in sync across machines",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&util.ConfigPath, "config", "",
		"Path to the machine config (default "+config.DefaultConfigPath+")")
	rootCmd.AddCommand(
		configCmd.New(),
		pullCmd.New(),
		pushCmd.New(),
		status.New(),
		unlock.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
