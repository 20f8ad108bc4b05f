package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/khaledrefaat/TaskSimple/internal/client"
	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/local"
	"github.com/khaledrefaat/TaskSimple/internal/logging"
	"github.com/khaledrefaat/TaskSimple/internal/reconcile"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
	"github.com/khaledrefaat/TaskSimple/internal/ui"
)

// app holds the collaborators a command works with.
type app struct {
	out    *logging.Output
	client *client.Client
	store  *local.Store // nil when the local database cannot be opened
	rec    *reconcile.Reconciler
	sess   *client.StoredSession
}

// openApp wires the client, local store and reconciler. When signedIn is
// true the saved session is loaded and bound to the store.
func openApp(ctx context.Context, signedIn bool) *app {
	a := &app{out: logging.Open(cfg.LogFile, verbose)}

	cl, err := client.New(&client.Config{
		ServerURL: cfg.ServerURL,
		Timeout:   cfg.RequestTimeout,
		OnTokenRefresh: func(token string) {
			if a.sess != nil {
				a.sess.Token = token
			}
			if err := client.UpdateToken(cfg.DataDir, token); err != nil {
				a.logger("auth").Printf("failed to save refreshed token: %v", err)
			}
		},
	})
	if err != nil {
		fatal(err)
	}
	a.client = cl

	store, err := local.OpenContext(ctx, filepath.Join(cfg.DataDir, local.DatabaseName))
	switch {
	case errors.Is(err, errs.ErrStorageUnavailable):
		fmt.Fprintf(os.Stderr, "%s Local storage unavailable, changes go straight to the server: %v\n",
			ui.RenderWarn(ui.IconWarn), err)
	case err != nil:
		fatal(err)
	default:
		a.store = store
	}
	a.rec = reconcile.New(a.store, cl, a.logger("sync"))

	if !signedIn {
		return a
	}
	sess, err := client.LoadSession(cfg.DataDir)
	if err != nil {
		a.Close()
		fmt.Fprintf(os.Stderr, "Error: not signed in. Run 'tasksimple signin' first.\n")
		os.Exit(1)
	}
	a.sess = sess
	if err := a.rec.Bind(ctx, sess.Session()); err != nil {
		fatal(err)
	}
	return a
}

// logger returns a component logger. Without --verbose or a log file the
// output is dropped so command output stays readable.
func (a *app) logger(component string) *log.Logger {
	if !verbose && cfg.LogFile == "" {
		return logging.Discard()
	}
	return a.out.Logger(component)
}

func (a *app) session() reconcile.Session {
	return a.sess.Session()
}

// Close releases the store and log file.
func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.out.Close()
}

// queued reports whether the record still has changes waiting for the
// server.
func (a *app) queued(ctx context.Context, kind schema.Kind, id string) bool {
	if a.store == nil {
		return false
	}
	ok, err := a.store.HasPending(ctx, kind, id)
	return err == nil && ok
}

// note prints the sync state of a just-written record.
func (a *app) note(ctx context.Context, kind schema.Kind, id string) {
	if a.queued(ctx, kind, id) {
		fmt.Printf("  %s\n", ui.RenderMuted("saved locally, will sync when the server is reachable"))
	}
}

// fatal prints err in user terms and exits.
func fatal(err error) {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		fmt.Fprintf(os.Stderr, "Error: validation failed\n")
		for field, msgs := range verr.Fields {
			for _, msg := range msgs {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
			}
		}
	case errors.Is(err, errs.ErrAuth):
		fmt.Fprintf(os.Stderr, "Error: %v\nRun 'tasksimple signin' to sign in again.\n", err)
	case errors.Is(err, errs.ErrNotFound):
		fmt.Fprintf(os.Stderr, "Error: not found\n")
	case errors.Is(err, client.ErrRateLimited):
		fmt.Fprintf(os.Stderr, "Error: too many attempts, try again later\n")
	case errors.Is(err, errs.ErrSyncUnavailable):
		fmt.Fprintf(os.Stderr, "Error: server unreachable (%s)\n", cfg.ServerURL)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// mutationError reports err from a mutation. A change that was kept
// locally is only a warning.
func (a *app) mutationError(ctx context.Context, kind schema.Kind, id string, err error) {
	if err == nil {
		return
	}
	if id != "" && a.queued(ctx, kind, id) {
		fmt.Fprintf(os.Stderr, "%s Saved locally but not synced: %v\n", ui.RenderWarn(ui.IconWarn), err)
		return
	}
	fatal(err)
}

// resolveProject finds a project by id, unique id prefix or name.
func (a *app) resolveProject(ctx context.Context, ref string) *schema.Project {
	projects := a.projects(ctx)
	var matches []*schema.Project
	for _, p := range projects {
		if p.ID == ref {
			return p
		}
		if strings.HasPrefix(p.ID, ref) || strings.EqualFold(p.Name, ref) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fmt.Fprintf(os.Stderr, "Error: no project matches %q\n", ref)
	default:
		fmt.Fprintf(os.Stderr, "Error: %q matches %d projects, use a longer id\n", ref, len(matches))
	}
	os.Exit(1)
	return nil
}

// resolveTodo finds a todo by id or unique id prefix.
func (a *app) resolveTodo(ctx context.Context, ref string) *schema.Todo {
	todos := a.todos(ctx)
	var matches []*schema.Todo
	for _, t := range todos {
		if t.ID == ref {
			return t
		}
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fmt.Fprintf(os.Stderr, "Error: no todo matches %q\n", ref)
	default:
		fmt.Fprintf(os.Stderr, "Error: %q matches %d todos, use a longer id\n", ref, len(matches))
	}
	os.Exit(1)
	return nil
}

// projects lists projects from the local mirror, or from the server when
// there is no local store.
func (a *app) projects(ctx context.Context) []*schema.Project {
	if a.store != nil {
		ps, err := a.store.ListProjects(ctx)
		if err != nil {
			fatal(err)
		}
		return ps
	}
	snap := a.snapshot(ctx)
	ps := make([]*schema.Project, len(snap.Projects))
	for i := range snap.Projects {
		ps[i] = &snap.Projects[i]
	}
	return ps
}

func (a *app) todos(ctx context.Context) []*schema.Todo {
	if a.store != nil {
		ts, err := a.store.ListTodos(ctx)
		if err != nil {
			fatal(err)
		}
		return ts
	}
	snap := a.snapshot(ctx)
	ts := make([]*schema.Todo, len(snap.Todos))
	for i := range snap.Todos {
		ts[i] = &snap.Todos[i]
	}
	return ts
}

func (a *app) snapshot(ctx context.Context) *schema.Snapshot {
	snap, err := a.client.FetchAll(ctx, a.session())
	if err != nil {
		fatal(err)
	}
	return snap
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
