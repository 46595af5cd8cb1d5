package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
)

func TestCompileText(t *testing.T) {
	out, err := execute(t, NewCompileCommand(testOptions("text")), "", writeSpecs(t))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 1 collection(s)")
	assert.Contains(t, out, "Posts: type Post, resolver posts, id _id, 3 view(s)")
}

func TestCompileJSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand(testOptions("json")), "", writeSpecs(t))
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Collections, 1)

	c := resp.Data.Collections[0]
	assert.Equal(t, "Posts", c.Name)
	assert.Equal(t, "Post", c.TypeName)
	assert.Equal(t, "posts", c.Resolver)
	require.Contains(t, c.Views, "top")
	assert.Equal(t, "score:desc", c.Views["top"].Sort)
	assert.Equal(t, 3, c.Views["top"].Limit)
	assert.Equal(t, ir.IRObject{"status": ir.IRString("published")}, c.Views["published"].Selector)
}

func TestCompileOutputFileIsCanonical(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "compiled.json")

	out, err := execute(t, NewCompileCommand(testOptions("text")), "", writeSpecs(t), "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote canonical JSON to "+outPath)

	first, err := os.ReadFile(outPath)
	require.NoError(t, err)

	// A second compile is byte-identical
	_, err = execute(t, NewCompileCommand(testOptions("text")), "", writeSpecs(t), "-o", outPath)
	require.NoError(t, err)
	second, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	v, err := ir.UnmarshalIRValue(first)
	require.NoError(t, err)
	colls, ok := v.(ir.IRObject)["collections"].(ir.IRArray)
	require.True(t, ok)
	assert.Len(t, colls, 1)
}

func TestCompileValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "posts.cue", duplicateTypeSpec)

	out, err := execute(t, NewCompileCommand(testOptions("text")), "", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Compilation failed")
}

func TestCompileMissingDirectory(t *testing.T) {
	out, err := execute(t, NewCompileCommand(testOptions("json")), "", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}
