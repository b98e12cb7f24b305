package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand(false)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelpListsCommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	require.NoError(t, err)
	for _, name := range []string{"chat", "gateway", "onboard", "status", "version"} {
		assert.Contains(t, output, name)
	}
	assert.NotContains(t, output, "docs", "docs command is hidden and excluded from test roots")
}

func TestCLIChatHelpShowsFlags(t *testing.T) {
	output, err := runRootCommandForTest("chat", "--help")
	require.NoError(t, err)
	assert.Contains(t, output, "--message")
	assert.Contains(t, output, "--user")
	assert.Contains(t, output, "/retry")
}

func TestCLIRequiresSubcommand(t *testing.T) {
	_, err := runRootCommandForTest()
	assert.Error(t, err)

	output, err := runRootCommandForTest("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "dotchat "))
}

func TestOnboardWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Cleanup(func() { configPathOverride = "" })

	output, err := runRootCommandForTest("--config", path, "onboard")
	require.NoError(t, err)
	assert.Contains(t, output, "dotchat is ready!")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "new_dialog_timeout_seconds")
}

func TestDocsGenerateAndCheck(t *testing.T) {
	out := t.TempDir()
	factory := func() *cobra.Command { return buildRootCommand(false) }

	require.NoError(t, generateDocumentation(factory, out, false))
	require.NoError(t, generateDocumentation(factory, out, true))

	modes, err := os.ReadFile(filepath.Join(out, "reference", "chat-modes.md"))
	require.NoError(t, err)
	assert.Contains(t, string(modes), "`movie_expert`")

	cfgRef, err := os.ReadFile(filepath.Join(out, "reference", "config.md"))
	require.NoError(t, err)
	assert.Contains(t, string(cfgRef), "DOTCHAT_BOT_NEW_DIALOG_TIMEOUT_SECONDS")

	require.NoError(t, os.WriteFile(filepath.Join(out, "reference", "config.md"), []byte("stale"), 0o644))
	assert.Error(t, generateDocumentation(factory, out, true))
}
