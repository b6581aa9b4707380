package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tobyv/researchmem/pkg/audit"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot.jsonl>",
	Short: "Summarize a snapshot file",
	Long: `Inspect validates a snapshot and prints its scope, chunk count,
concept paths, and mutation events without loading it into a store.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := audit.Read(f)
	if err != nil {
		return fmt.Errorf("snapshot is not replayable: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scope:          %s\n", snap.Header.ScopeID)
	fmt.Fprintf(out, "format version: %s\n", snap.Header.FormatVersion)
	fmt.Fprintf(out, "created at:     %s\n", snap.Header.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "chunks:         %d\n", len(snap.Chunks))
	fmt.Fprintf(out, "concept nodes:  %d\n", len(snap.Nodes))
	fmt.Fprintf(out, "events:         %d\n", len(snap.Events))

	paths := map[string]int{}
	for _, c := range snap.Chunks {
		if c.ConceptPath != "" {
			paths[c.ConceptPath]++
		}
	}
	if len(paths) > 0 {
		fmt.Fprintln(out, "\nconcept paths:")
		keys := make([]string, 0, len(paths))
		for p := range paths {
			keys = append(keys, p)
		}
		sort.Strings(keys)
		for _, p := range keys {
			fmt.Fprintf(out, "  %-60s %d chunk(s)\n", p, paths[p])
		}
	}

	if len(snap.Events) > 0 {
		byAction := map[string]int{}
		for _, ev := range snap.Events {
			byAction[ev.Action]++
		}
		fmt.Fprintln(out, "\nmutations:")
		actions := make([]string, 0, len(byAction))
		for a := range byAction {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			fmt.Fprintf(out, "  %-12s %d\n", a, byAction[a])
		}
	}
	return nil
}
