package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yamada-sexta/touitomamout-next/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
}

// StatsResult is the stats command output.
type StatsResult struct {
	Database    string         `json:"database"`
	Entries     int            `json:"entries"`
	SyncedPosts int            `json:"synced_posts"`
	Profiles    int            `json:"profiles"`
	ByPlatform  map[string]int `json:"by_platform"`
}

func (r StatsResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database:     %s\n", r.Database)
	fmt.Fprintf(&b, "Synced posts: %d\n", r.SyncedPosts)
	fmt.Fprintf(&b, "Entries:      %d\n", r.Entries)
	fmt.Fprintf(&b, "Profiles:     %d", r.Profiles)

	ids := make([]string, 0, len(r.ByPlatform))
	for id := range r.ByPlatform {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "\n  %-14s %d", id, r.ByPlatform[id])
	}
	return b.String()
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show sync store counters",
		Long: `Show how many posts are flagged as synced and how many platform entries
are recorded, per platform.

Example:
  touitomamout stats --db ./data.sqlite --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "data.sqlite", "SQLite database path")

	return cmd
}

func runStats(cmd *cobra.Command, opts *StatsOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if _, err := os.Stat(opts.Database); err != nil {
		_ = out.Error(CodeStore, fmt.Sprintf("database not found: %s", opts.Database))
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		_ = out.Error(CodeStore, err.Error())
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() { _ = st.Close() }()

	s, err := st.Stats(cmd.Context())
	if err != nil {
		_ = out.Error(CodeStore, err.Error())
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	return out.Success(StatsResult{
		Database:    opts.Database,
		Entries:     s.Entries,
		SyncedPosts: s.SyncedPosts,
		Profiles:    s.Profiles,
		ByPlatform:  s.ByPlatform,
	})
}
