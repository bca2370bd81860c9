package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSNOverridesAndDefaults(t *testing.T) {
	dsn, err := MySQLDSN("root:old@tcp(db:3306)/polls", "app", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, dsn, "app:s3cret@tcp(db:3306)/polls")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")

	dsn, err = MySQLDSN("u:p@tcp(db:3306)/polls?charset=latin1", "", "")
	require.NoError(t, err)
	assert.Contains(t, dsn, "u:p@tcp(db:3306)/polls")
	assert.Contains(t, dsn, "charset=latin1")
	assert.NotContains(t, dsn, "utf8mb4")

	_, err = MySQLDSN("mysql://u:p@db/polls", "", "")
	assert.Error(t, err)
}

func TestSQLiteDSNKeepsExplicitParams(t *testing.T) {
	assert.Equal(t, "poll.db?_busy_timeout=5000&_foreign_keys=on", SQLiteDSN("poll.db"))
	assert.Equal(t, "file:x?mode=memory&_foreign_keys=off&_busy_timeout=5000",
		SQLiteDSN("file:x?mode=memory&_foreign_keys=off"))
}

func TestNewGormRejectsUnknownDriver(t *testing.T) {
	_, err := NewGorm(Opts{Driver: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestNewGormOpensSQLite(t *testing.T) {
	db, err := NewGorm(Opts{Driver: "sqlite", DSN: "file:dbtest?mode=memory&cache=shared", LogLevel: "silent"})
	require.NoError(t, err)
	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}
