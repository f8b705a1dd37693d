package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a source workspace user into a target user",
	Long: `Merge moves every reference of the source user to the target user and deletes
the source. Timed out (408) and partially failed (500) responses are retried
from the returned nextTableIndex or nextPhase until the merge completes, a
failure without resume coordinates is returned, or --max-attempts is reached.
--resume continues an earlier unfinished run of the same pair. --preview prints
what the merge would change and exits without merging.`,
	RunE: runMerge,
}

var (
	mergeWorkspace       string
	mergeSource          string
	mergeTarget          string
	mergeStartTableIndex int
	mergeStartPhase      int
	mergeMaxAttempts     int
	mergeResume          bool
	mergePreview         bool
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeWorkspace, "ws", "", "Workspace id")
	mergeCmd.Flags().StringVar(&mergeSource, "source", "", "User id to merge and delete")
	mergeCmd.Flags().StringVar(&mergeTarget, "target", "", "User id to keep")
	mergeCmd.Flags().IntVar(&mergeStartTableIndex, "start-table-index", -1, "Resume Phase 1 at this table index")
	mergeCmd.Flags().IntVar(&mergeStartPhase, "start-phase", 0, "Resume at this phase (2-5), skipping Phase 1")
	mergeCmd.Flags().IntVar(&mergeMaxAttempts, "max-attempts", 20, "Maximum number of requests")
	mergeCmd.Flags().BoolVar(&mergeResume, "resume", false, "Continue the pair's unfinished run from its recorded coordinates")
	mergeCmd.Flags().BoolVar(&mergePreview, "preview", false, "Print what the merge would change without merging")
	_ = mergeCmd.MarkFlagRequired("ws")
	_ = mergeCmd.MarkFlagRequired("source")
	_ = mergeCmd.MarkFlagRequired("target")
}

func runMerge(cmd *cobra.Command, args []string) error {
	req := merge.MergeRequest{SourceID: mergeSource, TargetID: mergeTarget, Resume: mergeResume}
	if mergeStartTableIndex >= 0 {
		req.StartTableIndex = &mergeStartTableIndex
	}
	if mergeStartPhase > 0 {
		req.StartPhase = &mergeStartPhase
	}

	out := cmd.OutOrStdout()
	if mergePreview {
		preview, err := newClient().Preview(cmd.Context(), mergeWorkspace, req)
		if err != nil {
			return err
		}
		printPreview(out, preview)
		return nil
	}

	driver := NewDriver(newClient(), mergeMaxAttempts, printAttempt(out))
	result, attempts, err := driver.Run(cmd.Context(), mergeWorkspace, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Merged %s into %s in %d request(s).\n", mergeSource, mergeTarget, attempts)
	printResult(out, result)
	return nil
}

func printAttempt(out io.Writer) func(int, *MergeResponse) {
	return func(attempt int, res *MergeResponse) {
		switch {
		case res.Result == nil:
			fmt.Fprintf(out, "  attempt %d: %d %s\n", attempt, res.StatusCode, res.Message)
		case res.Result.NextPhase != nil:
			fmt.Fprintf(out, "  attempt %d: %d, resuming at phase %d\n", attempt, res.StatusCode, *res.Result.NextPhase)
		case res.Result.NextTableIndex != nil:
			fmt.Fprintf(out, "  attempt %d: %d, resuming at table index %d\n", attempt, res.StatusCode, *res.Result.NextTableIndex)
		default:
			fmt.Fprintf(out, "  attempt %d: %d\n", attempt, res.StatusCode)
		}
	}
}

func printResult(out io.Writer, result *merge.PhasedMergeResult) {
	if result == nil {
		return
	}
	if len(result.MigratedTables) > 0 {
		fmt.Fprintf(out, "Migrated: %s\n", strings.Join(result.MigratedTables, ", "))
	}
	if len(result.CollisionTables) > 0 {
		fmt.Fprintf(out, "Collisions: %s\n", strings.Join(result.CollisionTables, ", "))
	}
}

func printPreview(out io.Writer, preview *merge.MergePreview) {
	fmt.Fprintf(out, "Merging %s into %s would:\n", preview.SourceUserID, preview.TargetUserID)
	if len(preview.FieldsFromSource) > 0 {
		fmt.Fprintf(out, "  fill from source: %s\n", strings.Join(preview.FieldsFromSource, ", "))
	}
	fmt.Fprintf(out, "  set balance to %g\n", preview.Balance)
	switch {
	case preview.BothLinked:
		fmt.Fprintf(out, "  stop at phase 4: linked to %s and %s\n", preview.SourcePlatformUserID, preview.TargetPlatformUserID)
	case preview.LinkTransferred:
		fmt.Fprintf(out, "  move platform link %s to the target\n", preview.SourcePlatformUserID)
	}
	for _, c := range preview.Collisions {
		fmt.Fprintf(out, "  drop %d source row(s) of %s (%s): %s\n", len(c.Keys), c.Table, c.PKColumn, strings.Join(c.Keys, ", "))
	}
}
