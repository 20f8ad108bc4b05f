package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
	"github.com/khaledrefaat/TaskSimple/internal/ui"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects", "p"},
	GroupID: "data",
	Short:   "Manage projects",
	Long: `Manage projects. A project is referenced by its name, its id or any
unique prefix of its id.`,
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		color, _ := cmd.Flags().GetString("color")
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		p, err := a.rec.CreateProject(ctx, a.session(), args[0], color)
		if p == nil {
			fatal(err)
		}
		a.mutationError(ctx, schema.KindProject, p.ID, err)
		fmt.Printf("%s Created project %s %s %s\n", ui.RenderPass(ui.IconPass),
			ui.Swatch(p.Color), ui.RenderAccent(p.Name), ui.RenderMuted(shortID(p.ID)))
		a.note(ctx, schema.KindProject, p.ID)
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		projects := a.projects(ctx)
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(projects)
			return
		}
		if len(projects) == 0 {
			fmt.Println("No projects yet. Create one with 'tasksimple project add <name>'.")
			return
		}

		total := make(map[string]int)
		done := make(map[string]int)
		for _, t := range a.todos(ctx) {
			total[t.ProjectID]++
			if t.IsCompleted {
				done[t.ProjectID]++
			}
		}
		for _, p := range projects {
			marker := ""
			if a.queued(ctx, schema.KindProject, p.ID) {
				marker = " " + ui.RenderWarn("*")
			}
			fmt.Printf("%s %-24s %3d todo(s), %d done  %s%s\n", ui.Swatch(p.Color), p.Name,
				total[p.ID], done[p.ID], ui.RenderMuted(shortID(p.ID)), marker)
		}
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <project> <new-name>",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		p := a.resolveProject(ctx, args[0])
		name := args[1]
		updateProject(a, cmd, p, schema.ProjectPatch{Name: &name})
	},
}

var projectColorCmd = &cobra.Command{
	Use:   "color <project> <#rrggbb>",
	Short: "Change a project's color",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		color := args[1]
		if !hexColor.MatchString(color) {
			fmt.Fprintf(os.Stderr, "Error: color must look like #3b82f6\n")
			os.Exit(1)
		}
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		p := a.resolveProject(ctx, args[0])
		updateProject(a, cmd, p, schema.ProjectPatch{Color: &color})
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "rm <project>",
	Aliases: []string{"delete"},
	Short:   "Delete a project and its todos",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openApp(ctx, true)
		defer a.Close()

		p := a.resolveProject(ctx, args[0])
		err := a.rec.DeleteProject(ctx, a.session(), p.ID)
		a.mutationError(ctx, schema.KindProject, p.ID, err)
		fmt.Printf("%s Deleted project %s\n", ui.RenderPass(ui.IconPass), p.Name)
		a.note(ctx, schema.KindProject, p.ID)
	},
}

func init() {
	projectAddCmd.Flags().String("color", schema.DefaultColor, "Project color as #rrggbb")
	projectListCmd.Flags().Bool("json", false, "Output as JSON")

	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectRenameCmd, projectColorCmd, projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}

func updateProject(a *app, cmd *cobra.Command, p *schema.Project, patch schema.ProjectPatch) {
	ctx := cmd.Context()
	updated, err := a.rec.UpdateProject(ctx, a.session(), p.ID, patch)
	if updated == nil {
		fatal(err)
	}
	a.mutationError(ctx, schema.KindProject, p.ID, err)
	fmt.Printf("%s Updated project %s %s\n", ui.RenderPass(ui.IconPass),
		ui.Swatch(updated.Color), ui.RenderAccent(updated.Name))
	a.note(ctx, schema.KindProject, p.ID)
}
