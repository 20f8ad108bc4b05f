package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khaledrefaat/TaskSimple/internal/client"
	"github.com/khaledrefaat/TaskSimple/internal/daemon"
	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/export"
	"github.com/khaledrefaat/TaskSimple/internal/notify"
	"github.com/khaledrefaat/TaskSimple/internal/reconcile"
	"github.com/khaledrefaat/TaskSimple/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay queued changes and pull the latest data",
	Long: `Send every change made while offline to the server, then download the
server's current state.

A queued edit is dropped when the server's copy changed after the edit's
base version; the server copy wins.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()
		if a.store == nil {
			fatal(errs.ErrStorageUnavailable)
		}

		res, err := a.rec.ReconcileOnReconnect(ctx, a.session())
		if err != nil {
			if errs.IsOffline(err) {
				n, _ := a.store.PendingCount(ctx)
				fmt.Fprintf(os.Stderr, "%s Server unreachable; %d change(s) still queued\n",
					ui.RenderWarn(ui.IconWarn), n)
				os.Exit(1)
			}
			fatal(err)
		}

		fmt.Printf("%s Synced with %s\n", ui.RenderPass(ui.IconPass), a.client.BaseURL())
		fmt.Printf("  Sent:      %d\n", res.Replayed)
		if res.Conflicts > 0 {
			fmt.Printf("  Conflicts: %s\n", ui.RenderWarn(fmt.Sprintf("%d (server copy kept)", res.Conflicts)))
		}
		if res.Dropped > 0 {
			fmt.Printf("  Dropped:   %d\n", res.Dropped)
		}
		if res.Pull != nil {
			fmt.Printf("  Received:  %d new, %d updated, %d removed\n",
				res.Pull.Inserted, res.Pull.Updated, res.Pull.Deleted)
		}
		if res.Remaining > 0 {
			fmt.Printf("  Queued:    %s\n", ui.RenderWarn(fmt.Sprintf("%d", res.Remaining)))
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local data and connection status",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, false)
		defer a.Close()

		if sess, err := client.LoadSession(cfg.DataDir); err == nil {
			fmt.Printf("Account:  %s\n", ui.RenderAccent(sess.Email))
		} else {
			fmt.Printf("Account:  %s\n", ui.RenderMuted("not signed in"))
		}

		probe, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.client.Health(probe); err != nil {
			fmt.Printf("Server:   %s %s\n", a.client.BaseURL(), ui.RenderFail(ui.IconFail+" unreachable"))
		} else {
			fmt.Printf("Server:   %s %s\n", a.client.BaseURL(), ui.RenderPass(ui.IconPass+" online"))
		}

		if a.store == nil {
			fmt.Printf("Local:    %s\n", ui.RenderFail("unavailable"))
			return
		}
		st, err := a.store.Stats(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Local:    %s\n", a.store.Path())
		fmt.Printf("Projects: %d\n", st.Projects)
		fmt.Printf("Todos:    %d\n", st.Todos)
		if st.Pending > 0 {
			fmt.Printf("Queued:   %s\n", ui.RenderWarn(fmt.Sprintf("%d change(s)", st.Pending)))
		} else {
			fmt.Printf("Queued:   0\n")
		}
		if st.LastPull != nil {
			fmt.Printf("Pulled:   %s\n", st.LastPull.Local().Format(time.RFC1123))
		} else {
			fmt.Printf("Pulled:   %s\n", ui.RenderMuted("never"))
		}
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the local copy in sync in the background",
	Long: `Run in the foreground until interrupted, keeping the local database in
sync with the server.

The daemon checks connectivity, replays queued changes as soon as the
server is reachable again, pulls on a timer and whenever the server
announces a change, and pushes changes written by other tasksimple
commands shortly after they land in the local database.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		verbose = true
		a := openApp(ctx, true)
		defer a.Close()
		if a.store == nil {
			fatal(errs.ErrStorageUnavailable)
		}

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = cfg.SyncInterval
		dcfg.ProbeInterval = cfg.ProbeInterval
		dcfg.Logger = a.logger("daemon")

		events := notify.EventsURL(a.client.BaseURL())
		d, err := daemon.New(daemon.Options{
			Syncer: a.rec,
			Prober: a.client,
			Outbox: a.store,
			Session: func() (reconcile.Session, error) {
				sess, err := client.LoadSession(cfg.DataDir)
				if err != nil {
					return reconcile.Session{}, err
				}
				return sess.Session(), nil
			},
			Subscribe: func(ctx context.Context, token string, fn func(notify.Message)) error {
				return notify.Subscribe(ctx, events, token, fn)
			},
			DataDir: cfg.DataDir,
		}, dcfg)
		if err != nil {
			fatal(err)
		}

		fmt.Printf("%s Syncing %s with %s (Ctrl+C to stop)\n", ui.RenderAccent("▶"),
			a.sess.Email, a.client.BaseURL())
		if err := d.Start(ctx); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Daemon stopped\n", ui.RenderPass(ui.IconPass))
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export projects and todos",
	Long: `Write the local copy of your projects and todos as JSON, YAML or TOML.

Examples:
  tasksimple export > tasks.json
  tasksimple export --format yaml -o tasks.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		formatFlag, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		doc := export.Build(a.projects(ctx), a.todos(ctx), a.sess.Email, time.Now())

		w := os.Stdout
		if output != "" && output != "-" {
			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				fatal(fmt.Errorf("failed to create %s: %w", output, err))
			}
			defer f.Close()
			w = f
		}
		if err := export.Write(w, format, doc); err != nil {
			fatal(err)
		}
		if w != os.Stdout {
			fmt.Fprintf(os.Stderr, "%s Exported %d project(s) to %s\n",
				ui.RenderPass(ui.IconPass), len(doc.Projects), output)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "json", "Output format: json, yaml or toml")
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	rootCmd.AddCommand(syncCmd, statusCmd, daemonCmd, exportCmd)
}
