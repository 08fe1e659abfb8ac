package cli

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/yamada-sexta/touitomamout-next/internal/chunk"
)

// ChunkOptions holds flags for the chunk command.
type ChunkOptions struct {
	*RootOptions
	Max       int
	URLLength int
}

// ChunkResult is the chunk command output.
type ChunkResult struct {
	Chunks []string `json:"chunks"`
}

func (r ChunkResult) String() string {
	var b strings.Builder
	for i, c := range r.Chunks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "--- %d/%d (%d chars) ---\n%s", i+1, len(r.Chunks), utf8.RuneCountInString(c), c)
	}
	return b.String()
}

// NewChunkCommand creates the chunk command.
func NewChunkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChunkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chunk [text]",
		Short: "Split text the way posts are split for a platform",
		Long: `Split text into chunks no longer than --max characters. Reads standard
input when no text is given.

Example:
  touitomamout chunk --max 300 "some long text"
  echo "some long text" | touitomamout chunk --max 500 --url-length 23`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read input", err)
				}
				text = string(b)
			}
			if opts.Max <= 0 {
				return NewExitError(ExitCommandError, "--max must be positive")
			}

			chunks := chunk.Split(text, chunk.Options{MaxChunkSize: opts.Max, URLLength: opts.URLLength})
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(ChunkResult{Chunks: chunks})
		},
	}

	cmd.Flags().IntVar(&opts.Max, "max", 300, "maximum characters per chunk")
	cmd.Flags().IntVar(&opts.URLLength, "url-length", 0, "fixed length charged per link (0 counts literally)")

	return cmd
}
