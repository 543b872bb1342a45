package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "", Config{}.Path())
	assert.Equal(t, filepath.Join("data", "duckdb", "ags.duckdb"), Config{DataDir: "data"}.Path())
	assert.Equal(t, filepath.Join("data", "duckdb", "x.duckdb"), Config{DataDir: "data", DBName: "x"}.Path())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{DataDir: dir})
	require.NoError(t, err)
	defer conn.Close()

	var n int
	require.NoError(t, conn.QueryRow("SELECT 41 + 1").Scan(&n))
	assert.Equal(t, 42, n)
	assert.FileExists(t, filepath.Join(dir, "duckdb", "ags.duckdb"))
}
