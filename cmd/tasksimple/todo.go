package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
	"github.com/khaledrefaat/TaskSimple/internal/ui"
)

var todoCmd = &cobra.Command{
	Use:     "todo",
	Aliases: []string{"todos", "t"},
	GroupID: "data",
	Short:   "Manage todos",
	Long: `Manage todos. A todo is referenced by its id or any unique prefix of
its id, as shown by 'tasksimple todo list'.`,
}

var todoAddCmd = &cobra.Command{
	Use:   "add <project> <title>",
	Short: "Add a todo to a project",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		p := a.resolveProject(ctx, args[0])
		title := strings.Join(args[1:], " ")
		t, err := a.rec.CreateTodo(ctx, a.session(), p.ID, title)
		if t == nil {
			fatal(err)
		}
		a.mutationError(ctx, schema.KindTodo, t.ID, err)
		fmt.Printf("%s Added %s to %s %s\n", ui.RenderPass(ui.IconPass),
			ui.RenderAccent(t.Title), p.Name, ui.RenderMuted(shortID(t.ID)))
		a.note(ctx, schema.KindTodo, t.ID)
	},
}

var todoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List todos grouped by project",
	Long: `List todos grouped by project.

--changed-since accepts a date (2025-05-01), an RFC 3339 timestamp or a
phrase such as "yesterday", "last monday" or "3 days ago".`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		projectRef, _ := cmd.Flags().GetString("project")
		onlyOpen, _ := cmd.Flags().GetBool("open")
		onlyDone, _ := cmd.Flags().GetBool("done")
		since, _ := cmd.Flags().GetString("changed-since")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if onlyOpen && onlyDone {
			fmt.Fprintf(os.Stderr, "Error: --open and --done are mutually exclusive\n")
			os.Exit(1)
		}
		var cutoff time.Time
		if since != "" {
			var err error
			cutoff, err = parseSince(since, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		projects := a.projects(ctx)
		if projectRef != "" {
			projects = []*schema.Project{a.resolveProject(ctx, projectRef)}
		}

		byProject := make(map[string][]*schema.Todo)
		var shown []*schema.Todo
		for _, t := range a.todos(ctx) {
			switch {
			case onlyOpen && t.IsCompleted,
				onlyDone && !t.IsCompleted,
				!cutoff.IsZero() && t.UpdatedAt.Before(cutoff):
				continue
			}
			byProject[t.ProjectID] = append(byProject[t.ProjectID], t)
		}
		for _, p := range projects {
			shown = append(shown, byProject[p.ID]...)
		}

		if jsonOutput {
			if shown == nil {
				shown = []*schema.Todo{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(shown)
			return
		}
		if len(shown) == 0 {
			fmt.Println("No todos.")
			return
		}

		for _, p := range projects {
			todos := byProject[p.ID]
			if len(todos) == 0 {
				continue
			}
			fmt.Printf("%s %s\n", ui.Swatch(p.Color), ui.RenderAccent(p.Name))
			for _, t := range todos {
				icon, title := ui.IconTodo, t.Title
				if t.IsCompleted {
					icon, title = ui.RenderPass(ui.IconDone), ui.RenderMuted(t.Title)
				}
				marker := ""
				if a.queued(ctx, schema.KindTodo, t.ID) {
					marker = " " + ui.RenderWarn("*")
				}
				fmt.Printf("  %s %s  %s%s\n", icon, title, ui.RenderMuted(shortID(t.ID)), marker)
			}
		}
	},
}

var todoDoneCmd = &cobra.Command{
	Use:   "done <todo>...",
	Short: "Mark todos completed",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCompleted(cmd, args, true)
	},
}

var todoUndoCmd = &cobra.Command{
	Use:   "undo <todo>...",
	Short: "Mark todos not completed",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setCompleted(cmd, args, false)
	},
}

var todoToggleCmd = &cobra.Command{
	Use:   "toggle <todo>",
	Short: "Flip a todo between open and completed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		t := a.resolveTodo(ctx, args[0])
		updated, err := a.rec.ToggleTodo(ctx, a.session(), t.ID)
		if updated == nil {
			fatal(err)
		}
		a.mutationError(ctx, schema.KindTodo, t.ID, err)
		printTodo(updated)
		a.note(ctx, schema.KindTodo, t.ID)
	},
}

var todoRenameCmd = &cobra.Command{
	Use:   "rename <todo> <title>",
	Short: "Change a todo's title",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		t := a.resolveTodo(ctx, args[0])
		title := strings.Join(args[1:], " ")
		updateTodo(a, cmd, t, schema.TodoPatch{Title: &title})
	},
}

var todoMoveCmd = &cobra.Command{
	Use:   "move <todo> <project>",
	Short: "Move a todo to another project",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		t := a.resolveTodo(ctx, args[0])
		p := a.resolveProject(ctx, args[1])
		updateTodo(a, cmd, t, schema.TodoPatch{ProjectID: &p.ID})
	},
}

var todoRemoveCmd = &cobra.Command{
	Use:     "rm <todo>...",
	Aliases: []string{"delete"},
	Short:   "Delete todos",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		for _, ref := range args {
			t := a.resolveTodo(ctx, ref)
			err := a.rec.DeleteTodo(ctx, a.session(), t.ID)
			a.mutationError(ctx, schema.KindTodo, t.ID, err)
			fmt.Printf("%s Deleted %s\n", ui.RenderPass(ui.IconPass), t.Title)
			a.note(ctx, schema.KindTodo, t.ID)
		}
	},
}

func init() {
	todoListCmd.Flags().String("project", "", "Only list this project's todos")
	todoListCmd.Flags().Bool("open", false, "Only open todos")
	todoListCmd.Flags().Bool("done", false, "Only completed todos")
	todoListCmd.Flags().String("changed-since", "", "Only todos updated since this time")
	todoListCmd.Flags().Bool("json", false, "Output as JSON")

	todoCmd.AddCommand(todoAddCmd, todoListCmd, todoDoneCmd, todoUndoCmd, todoToggleCmd,
		todoRenameCmd, todoMoveCmd, todoRemoveCmd)
	rootCmd.AddCommand(todoCmd)
}

func setCompleted(cmd *cobra.Command, refs []string, done bool) {
	ctx := cmd.Context()
	a := openApp(ctx, true)
	defer a.Close()

	for _, ref := range refs {
		t := a.resolveTodo(ctx, ref)
		if t.IsCompleted == done {
			printTodo(t)
			continue
		}
		updateTodo(a, cmd, t, schema.TodoPatch{IsCompleted: &done})
	}
}

func updateTodo(a *app, cmd *cobra.Command, t *schema.Todo, patch schema.TodoPatch) {
	ctx := cmd.Context()
	updated, err := a.rec.UpdateTodo(ctx, a.session(), t.ID, patch)
	if updated == nil {
		fatal(err)
	}
	a.mutationError(ctx, schema.KindTodo, t.ID, err)
	printTodo(updated)
	a.note(ctx, schema.KindTodo, t.ID)
}

func printTodo(t *schema.Todo) {
	icon := ui.IconTodo
	if t.IsCompleted {
		icon = ui.RenderPass(ui.IconDone)
	}
	fmt.Printf("%s %s  %s\n", icon, t.Title, ui.RenderMuted(shortID(t.ID)))
}

// parseSince reads an absolute date or a natural-language phrase relative
// to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", s)
	}
	return r.Time, nil
}
