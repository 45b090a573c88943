package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/followgraph/config"
)

func TestInitDBSqlite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"

	db, err := InitDB(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Exec("SELECT 1").Error)
}
