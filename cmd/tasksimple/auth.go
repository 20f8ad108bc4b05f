package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/khaledrefaat/TaskSimple/internal/client"
	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/ui"
)

var signupCmd = &cobra.Command{
	Use:     "signup",
	GroupID: "account",
	Short:   "Create an account and sign in",
	Long: `Create an account on the server and sign in on this machine.

Without --email the command prompts interactively. In scripts, pass
--email and pipe the password on stdin with --password-stdin.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		email, password := credentialsFor(cmd, true)
		ctx := cmd.Context()
		a := openApp(ctx, false)
		defer a.Close()

		res, err := a.client.SignUp(ctx, email, password)
		if err != nil {
			fatal(err)
		}
		a.startSession(ctx, res)
	},
}

var signinCmd = &cobra.Command{
	Use:     "signin",
	GroupID: "account",
	Short:   "Sign in on this machine",
	Long: `Sign in and download your projects and todos.

Signing in as a different user clears the local copy of the previous
account, including any changes it had not synced.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		email, password := credentialsFor(cmd, false)
		ctx := cmd.Context()
		a := openApp(ctx, false)
		defer a.Close()

		res, err := a.client.SignIn(ctx, email, password)
		if err != nil {
			fatal(err)
		}
		a.startSession(ctx, res)
	},
}

var signoutCmd = &cobra.Command{
	Use:     "signout",
	GroupID: "account",
	Short:   "Sign out on this machine",
	Long: `Forget the saved session. Local data is kept so that signing back in
as the same user resumes where you left off.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		if a.store != nil {
			if n, err := a.store.PendingCount(ctx); err == nil && n > 0 {
				fmt.Fprintf(os.Stderr, "%s %d change(s) not yet synced; they will sync after you sign in again\n",
					ui.RenderWarn(ui.IconWarn), n)
			}
		}

		// Best effort: the token stays valid until it expires either way.
		if err := a.client.SignOut(ctx, a.sess.Token); err != nil && !errs.IsOffline(err) && !errors.Is(err, errs.ErrAuth) {
			a.logger("auth").Printf("sign out: %v", err)
		}
		if err := client.ClearSession(cfg.DataDir); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Signed out %s\n", ui.RenderPass(ui.IconPass), a.sess.Email)
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the signed-in user",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		fmt.Printf("%s (%s)\n", ui.RenderAccent(a.sess.Email), shortID(a.sess.UserID))
		fmt.Printf("Server:    %s\n", a.sess.Server)
		fmt.Printf("Signed in: %s\n", a.sess.SignedInAt.Local().Format(time.RFC1123))

		me, err := a.client.Me(ctx, a.sess.Token)
		switch {
		case errs.IsOffline(err):
			fmt.Printf("Session:   %s\n", ui.RenderWarn("not checked, server unreachable"))
		case err != nil:
			fmt.Printf("Session:   %s\n", ui.RenderFail("rejected by server, sign in again"))
		case me.ID != a.sess.UserID:
			fmt.Printf("Session:   %s\n", ui.RenderFail("belongs to another user, sign in again"))
		default:
			fmt.Printf("Session:   %s\n", ui.RenderPass("valid"))
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{signupCmd, signinCmd} {
		c.Flags().String("email", "", "Account email")
		c.Flags().Bool("password-stdin", false, "Read the password from stdin")
	}
	rootCmd.AddCommand(signupCmd, signinCmd, signoutCmd, whoamiCmd)
}

// startSession saves res, binds the local store to the user and pulls
// their data.
func (a *app) startSession(ctx context.Context, res *client.AuthResult) {
	sess := &client.StoredSession{
		UserID:     res.User.ID,
		Email:      res.User.Email,
		Token:      res.Token,
		Server:     a.client.BaseURL(),
		SignedInAt: time.Now().UTC(),
	}
	if err := client.SaveSession(cfg.DataDir, sess); err != nil {
		fatal(err)
	}
	a.sess = sess
	fmt.Printf("%s %s as %s\n", ui.RenderPass(ui.IconPass), res.Message, ui.RenderAccent(sess.Email))

	if a.store == nil {
		return
	}
	if err := a.rec.Bind(ctx, sess.Session()); err != nil {
		fatal(err)
	}
	pull, err := a.rec.Pull(ctx, sess.Session())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Could not download your data yet: %v\n", ui.RenderWarn(ui.IconWarn), err)
		return
	}
	stats, err := a.store.Stats(ctx)
	if err == nil {
		fmt.Printf("  %d project(s), %d todo(s) (%d new)\n", stats.Projects, stats.Todos, pull.Inserted)
	}
}

// credentialsFor collects email and password from flags, stdin or an
// interactive form.
func credentialsFor(cmd *cobra.Command, confirm bool) (string, string) {
	email, _ := cmd.Flags().GetString("email")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")

	if fromStdin || !ui.IsTerminal(os.Stdin) {
		if email == "" {
			fmt.Fprintf(os.Stderr, "Error: --email is required when not running interactively\n")
			os.Exit(1)
		}
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "Error: failed to read password from stdin: %v\n", err)
			os.Exit(1)
		}
		return email, strings.TrimRight(line, "\r\n")
	}

	if email != "" && !confirm {
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read password: %v\n", err)
			os.Exit(1)
		}
		return email, string(pw)
	}

	var password, again string
	fields := []huh.Field{
		huh.NewInput().
			Title("Email").
			Value(&email).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("email is required")
				}
				return nil
			}),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password),
	}
	if confirm {
		fields = append(fields, huh.NewInput().
			Title("Confirm password").
			EchoMode(huh.EchoModePassword).
			Value(&again).
			Validate(func(s string) error {
				if s != password {
					return errors.New("passwords do not match")
				}
				return nil
			}))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return strings.TrimSpace(email), password
}
