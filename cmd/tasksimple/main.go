package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/khaledrefaat/TaskSimple/internal/config"
)

var (
	v       = viper.New()
	cfg     *config.Client
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tasksimple",
	Short: "Offline-first projects and todos",
	Long: `TaskSimple keeps your projects and todos in a local database and
syncs them with a TaskSimple server whenever it is reachable.

Changes made offline are queued and replayed when the connection returns.
Run 'tasksimple daemon' to keep the local copy in sync in the background.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loaded, err := config.LoadClient(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "data", Title: "Projects and todos:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("server", "", "Server URL (default http://localhost:8080)")
	flags.String("data-dir", "", "Directory for the local database and session")
	flags.String("log-file", "", "Write logs to this file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log sync activity to stderr")

	_ = v.BindPFlag("server_url", flags.Lookup("server"))
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("log_file", flags.Lookup("log-file"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
