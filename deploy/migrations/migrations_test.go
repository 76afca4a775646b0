package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsIncludeCommandTasks(t *testing.T) {
	stmts, err := Statements()
	require.NoError(t, err)
	require.NotEmpty(t, stmts)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS command_tasks"))
	for _, stmt := range stmts {
		assert.False(t, strings.HasSuffix(stmt, ";"))
	}
}
