package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := buildRootCmd()

	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "down"}, {"migrate", "version"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestMigrateDown_RejectsBadSteps(t *testing.T) {
	for _, arg := range []string{"abc", "0", "-2"} {
		root := buildRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"migrate", "down", "--", arg})

		err := root.Execute()
		assert.ErrorContains(t, err, "steps must be a positive integer", arg)
	}
}

func TestServe_SkipMigrationsFlag(t *testing.T) {
	cmd := buildServeCmd()
	f := cmd.Flags().Lookup("skip-migrations")
	require.NotNil(t, f)
	assert.Equal(t, "false", f.DefValue)
}
