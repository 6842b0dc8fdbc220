package app

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"invoice-harvester-go/internal/config"
)

func TestNewLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger(config.LogConfig{Level: "debug"}).GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger(config.LogConfig{Level: "loud"}).GetLevel())

	_, ok := NewLogger(config.LogConfig{}).Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}
