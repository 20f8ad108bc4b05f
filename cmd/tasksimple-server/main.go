package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/khaledrefaat/TaskSimple/internal/auth"
	"github.com/khaledrefaat/TaskSimple/internal/config"
	"github.com/khaledrefaat/TaskSimple/internal/logging"
	"github.com/khaledrefaat/TaskSimple/internal/remote"
	"github.com/khaledrefaat/TaskSimple/internal/server"
	"github.com/khaledrefaat/TaskSimple/internal/ui"
)

var (
	v       = viper.New()
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "tasksimple-server",
	Short: "TaskSimple API server",
	Long: `The TaskSimple server stores every user's projects and todos and serves
them to clients over HTTP.

Settings come from $TASKSIMPLE_HOME/config.yaml, a .env file and
TASKSIMPLE_* environment variables. database_url selects PostgreSQL
(postgres://...) or SQLite (a file path).`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out := logging.Open(cfg.LogFile, true)
		defer out.Close()
		logger := out.Logger("server")

		store := openStore(cmd.Context(), cfg, out)
		defer store.Close()

		tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenLifetime, cfg.RefreshThreshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		srv := server.New(store, auth.NewService(store, tokens), &server.Config{
			Addr:          cfg.Listen,
			SecureCookies: cfg.Production,
			TrustProxy:    cfg.TrustProxy,
			SignInRate:    cfg.SignInRate,
			SignInBurst:   cfg.SignInBurst,
			Logger:        logger,
		})
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !cfg.Production {
			logger.Printf("Development mode: session cookies are not marked Secure")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdown); err != nil {
			logger.Printf("%v", err)
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		out := logging.Open(cfg.LogFile, true)
		defer out.Close()

		store := openStore(cmd.Context(), cfg, out)
		defer store.Close()
		fmt.Printf("%s Schema is up to date (%s)\n", ui.RenderPass(ui.IconPass), store.Dialect())
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <email>",
	Short: "Delete an account with all its projects and todos",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		cfg := loadConfig()
		out := logging.Open(cfg.LogFile, true)
		defer out.Close()

		ctx := cmd.Context()
		store := openStore(ctx, cfg, out)
		defer store.Close()

		email := auth.NormalizeEmail(args[0])
		acct, err := store.GetUserByEmail(ctx, email)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: no account for %s\n", email)
			os.Exit(1)
		}

		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				fmt.Fprintf(os.Stderr, "Error: pass --yes to delete without a prompt\n")
				os.Exit(1)
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %s and all of their data?", email)).
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil || !confirmed {
				fmt.Println("Cancelled.")
				return
			}
		}

		if err := store.DeleteUser(ctx, acct.User.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass(ui.IconPass), email)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file")
	serveCmd.Flags().String("listen", "", "Listen address (default :8080)")
	_ = v.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	userDeleteCmd.Flags().Bool("yes", false, "Do not ask for confirmation")

	userCmd.AddCommand(userDeleteCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, userCmd)
}

func loadConfig() *config.Server {
	cfg, err := config.LoadServer(v, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore connects to the database and applies migrations.
func openStore(ctx context.Context, cfg *config.Server, out *logging.Output) *remote.Store {
	store, err := remote.Open(cfg.DatabaseURL, out.Logger("db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return store
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
