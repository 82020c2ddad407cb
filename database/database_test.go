package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
	"zh.xyz/dv/hubsync/config"
	"zh.xyz/dv/hubsync/models"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}, logger.Silent)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&models.SyncRun{}))
	assert.True(t, db.Migrator().HasTable(&models.SyncLog{}))
}

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "oracle"}, logger.Silent)
	assert.Error(t, err)
}
