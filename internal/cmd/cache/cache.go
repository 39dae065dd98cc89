// Package cache provides CLI commands for inspecting and clearing cached
// workflow artifacts.
package cache

import (
	"fmt"
	"strings"
	"time"

	appcache "github.com/Iron-Ham/klaus/internal/cache"
	appconfig "github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/prompt"
	"github.com/spf13/cobra"
)

// Register adds the cache command tree to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(NewCommand())
}

// NewCommand builds the `cache` command and its subcommands.
func NewCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear cached artifacts",
		Long: `Inspect or clear the artifacts Klaus caches between runs: prerequisites,
schema analyses, generated code, prompts and application names.

Cached artifacts are offered for reuse by later runs of the same workflow.`,
	}

	listCmd := &cobra.Command{
		Use:       "list [workflow]",
		Short:     "List cached artifacts",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: kindNames(),
		RunE:      runCacheList,
	}

	clearCmd := &cobra.Command{
		Use:   "clear [workflow]",
		Short: "Remove cached artifacts",
		Long: `Remove cached artifacts, for every workflow or only the one named.

Asks for confirmation unless --force is given.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: kindNames(),
		RunE:      runCacheClear,
	}
	clearCmd.Flags().BoolP("force", "f", false, "Skip confirmation prompt")

	cacheCmd.AddCommand(listCmd, clearCmd)
	return cacheCmd
}

func kindNames() []string {
	kinds := phase.AllKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

// openStore resolves the optional workflow argument and the configured
// cache root.
func openStore(args []string) (*appcache.Store, string, error) {
	workflow := ""
	if len(args) == 1 {
		if !phase.Kind(args[0]).Valid() {
			return nil, "", fmt.Errorf("unknown workflow %q\nValid options: %s", args[0], strings.Join(kindNames(), ", "))
		}
		workflow = args[0]
	}
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, "", err
	}
	return appcache.NewStore(appconfig.ExpandHome(cfg.Cache.Dir), nil), workflow, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	store, workflow, err := openStore(args)
	if err != nil {
		return err
	}
	entries, err := store.List(workflow)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Repeat("─", 70))
	fmt.Fprintf(out, "Cached artifacts in %s\n", store.Root())
	fmt.Fprintln(out, strings.Repeat("─", 70))

	if len(entries) == 0 {
		fmt.Fprintln(out, "\nNo cached artifacts.")
		return nil
	}

	fmt.Fprintf(out, "\nFound %d artifact(s):\n", len(entries))
	current := ""
	for _, e := range entries {
		if e.Workflow != current {
			current = e.Workflow
			fmt.Fprintf(out, "\n  %s\n", current)
		}
		fmt.Fprintf(out, "    %-16s %-32s %8s  %s\n",
			e.Artifact, e.Entity, formatSize(e.Size), e.ModTime.Format(time.RFC822))
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	store, workflow, err := openStore(args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	entries, err := store.List(workflow)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No cached artifacts to remove.")
		return nil
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		scope := "all workflows"
		if workflow != "" {
			scope = "the " + workflow + " workflow"
		}
		p := prompt.New(cmd.InOrStdin(), out)
		ok, err := p.Confirm(cmd.Context(), fmt.Sprintf("Remove %d cached artifact(s) for %s?", len(entries), scope), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Nothing removed.")
			return nil
		}
	}

	n, err := store.Clear(workflow)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d cached artifact(s).\n", n)
	return nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}
