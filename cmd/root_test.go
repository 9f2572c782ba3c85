package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "worker", "migrate", "categorize", "requeue", "import", "status"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "caging-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCategorizeCommand_Flags(t *testing.T) {
	flag := categorizeCmd.Flags().Lookup("file")
	require.NotNil(t, flag, "categorize command should have --file flag")
}

func TestRequeueCommand_Flags(t *testing.T) {
	flag := requeueCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "requeue command should have --limit flag")
	assert.Equal(t, "100", flag.DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	require.NotNil(t, importCmd.Flags().Lookup("csv"))
	flag := importCmd.Flags().Lookup("upsert")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
