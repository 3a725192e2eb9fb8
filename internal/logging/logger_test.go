package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "debug", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	_ = logger.Sync()
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "shouting", OutputPaths: []string{"stderr"}})
	assert.Error(t, err)
}

func TestNewDefaultNeverNil(t *testing.T) {
	assert.NotNil(t, NewDefault())
	assert.NotNil(t, NewDevelopment())
	assert.NotNil(t, Nop())
}

func TestNamed(t *testing.T) {
	logger := Nop()
	sub := logger.Named("sub")
	assert.NotNil(t, sub)
	sub.Info("named loggers must be usable")
}
