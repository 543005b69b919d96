package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN("db.local", "5433", "lobby", "secret", "lobbychat")
	assert.Equal(t, "host=db.local port=5433 user=lobby password=secret dbname=lobbychat sslmode=disable TimeZone=UTC", dsn)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel("silent"))
	assert.Equal(t, logger.Error, gormLogLevel("ERROR"))
	assert.Equal(t, logger.Info, gormLogLevel("debug"))
	assert.Equal(t, logger.Warn, gormLogLevel(""))
}
