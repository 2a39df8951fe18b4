package database

import (
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN("app", "p@ss", "db", "3306", "waitlist")

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "p@ss", cfg.Passwd)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "waitlist", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.True(t, cfg.ClientFoundRows)
	assert.Equal(t, time.UTC, cfg.Loc)
}

func TestSchemaOrdering(t *testing.T) {
	var tables []string
	for _, stmt := range schema {
		fields := strings.Fields(stmt)
		require.GreaterOrEqual(t, len(fields), 6)
		tables = append(tables, fields[5])
	}
	// Referenced tables come first.
	assert.Equal(t, []string{"users", "refresh_tokens", "restaurants", "waitlist_entries"}, tables)
}
