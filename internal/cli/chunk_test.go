package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestChunkCommand_Text(t *testing.T) {
	out, err := execute(t, "", "chunk", "--max", "10", "aaaa bbbb cccc")
	require.NoError(t, err)
	assert.Equal(t, "--- 1/2 (9 chars) ---\naaaa bbbb\n--- 2/2 (4 chars) ---\ncccc\n", out)
}

func TestChunkCommand_StdinJSON(t *testing.T) {
	out, err := execute(t, "short text\n", "chunk", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   ChunkResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"short text"}, resp.Data.Chunks)
}

func TestChunkCommand_URLLength(t *testing.T) {
	text := "see https://example.com/a/very/long/path/that/goes/on"
	out, err := execute(t, "", "chunk", "--format", "json", "--max", "30", "--url-length", "23", text)
	require.NoError(t, err)
	assert.Contains(t, out, `"chunks":["`+text+`"]`)
}

func TestChunkCommand_InvalidMax(t *testing.T) {
	_, err := execute(t, "", "chunk", "--max", "0", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
