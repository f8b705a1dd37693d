package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/dedupe"
	"github.com/Ramsey-B/fern/pkg/merge"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List workspace users sharing an email or phone number",
	RunE:  runDuplicates,
}

var mergeDuplicatesCmd = &cobra.Command{
	Use:   "merge-duplicates",
	Short: "Merge every duplicate cluster into its kept user",
	Long: `merge-duplicates lists the duplicate clusters of a workspace and merges each
cluster into the user chosen by --strategy (oldest, newest or most_data).
Clusters where more than one member is linked to a platform account are
skipped. Pairs run one at a time; a failed pair does not stop the rest.`,
	RunE: runMergeDuplicates,
}

var (
	duplicatesWorkspace   string
	duplicatesStrategy    string
	duplicatesDryRun      bool
	duplicatesMaxAttempts int
)

func init() {
	rootCmd.AddCommand(duplicatesCmd)
	rootCmd.AddCommand(mergeDuplicatesCmd)

	for _, cmd := range []*cobra.Command{duplicatesCmd, mergeDuplicatesCmd} {
		cmd.Flags().StringVar(&duplicatesWorkspace, "ws", "", "Workspace id")
		cmd.Flags().StringVar(&duplicatesStrategy, "strategy", string(dedupe.StrategyOldest), "Which user of a cluster to keep: oldest, newest or most_data")
		_ = cmd.MarkFlagRequired("ws")
	}
	mergeDuplicatesCmd.Flags().BoolVar(&duplicatesDryRun, "dry-run", false, "Print the planned merges without running them")
	mergeDuplicatesCmd.Flags().IntVar(&duplicatesMaxAttempts, "max-attempts", 20, "Maximum number of requests per pair")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	res, err := newClient().Duplicates(cmd.Context(), duplicatesWorkspace, duplicatesStrategy)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Total == 0 {
		fmt.Fprintln(out, "No duplicate users found.")
		return nil
	}
	for _, cluster := range res.Clusters {
		printCluster(out, cluster)
	}
	fmt.Fprintf(out, "\n%d cluster(s), %d merge(s) planned with strategy %s, %d cluster(s) skipped for link conflicts.\n",
		res.Total, len(res.Pairs), res.Strategy, len(res.Conflicts))
	return nil
}

func runMergeDuplicates(cmd *cobra.Command, args []string) error {
	client := newClient()
	res, err := client.Duplicates(cmd.Context(), duplicatesWorkspace, duplicatesStrategy)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, cluster := range res.Conflicts {
		fmt.Fprintf(out, "Skipping cluster %d: more than one member is linked to a platform account\n", cluster.ClusterID)
	}
	if duplicatesDryRun {
		for _, pair := range res.Pairs {
			fmt.Fprintf(out, "would merge %s into %s\n", pair.SourceID, pair.TargetID)
		}
		return nil
	}

	summary := mergePairs(cmd, NewDriver(client, duplicatesMaxAttempts, nil), res)
	fmt.Fprintf(out, "\n%d merged, %d failed, %d cluster(s) skipped.\n", summary.merged, len(summary.failed), len(res.Conflicts))
	if len(summary.failed) > 0 {
		return fmt.Errorf("%d merge(s) failed: %s", len(summary.failed), strings.Join(summary.failed, ", "))
	}
	return nil
}

type pairSummary struct {
	merged int
	failed []string
}

func mergePairs(cmd *cobra.Command, driver *Driver, res *handlers.DuplicatesResponse) pairSummary {
	out := cmd.OutOrStdout()
	var summary pairSummary
	for _, pair := range res.Pairs {
		_, attempts, err := driver.Run(cmd.Context(), duplicatesWorkspace, merge.MergeRequest{
			SourceID: pair.SourceID,
			TargetID: pair.TargetID,
		})
		if err != nil {
			fmt.Fprintf(out, "FAIL %s -> %s: %v\n", pair.SourceID, pair.TargetID, err)
			summary.failed = append(summary.failed, pair.SourceID)
			continue
		}
		fmt.Fprintf(out, "ok   %s -> %s (%d request(s))\n", pair.SourceID, pair.TargetID, attempts)
		summary.merged++
	}
	return summary
}

func printCluster(out io.Writer, cluster dedupe.DuplicateCluster) {
	header := fmt.Sprintf("Cluster %d (%s)", cluster.ClusterID, cluster.MatchReason)
	if cluster.HasLinkConflict {
		header += " [link conflict]"
	}
	fmt.Fprintln(out, header)
	for _, user := range cluster.Users {
		marker := " "
		if user.ID == cluster.SuggestedTargetID {
			marker = "*"
		}
		linked := ""
		if user.IsLinked {
			linked = " linked:" + user.LinkedPlatformUserID
		}
		fmt.Fprintf(out, "  %s %s %-24s %-28s %-16s %s%s\n", marker, user.ID, user.FullName, user.Email, user.Phone,
			user.CreatedAt.Format("2006-01-02"), linked)
	}
}
