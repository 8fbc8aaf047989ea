package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, err := New(Config{Level: level, OutputPaths: []string{"stderr"}})
			require.NoError(t, err)
			assert.NotNil(t, logger.Logger)
		})
	}
}

func TestRotationWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.log")

	logger, err := New(Config{
		Level:       "info",
		OutputPaths: []string{"stderr"},
		Rotation:    &Rotation{Filename: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	logger.Named("permission").Info("rule added", zap.String("origin", "https://a.example"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"rule added"`)
	assert.Contains(t, string(data), `"logger":"permission"`)
	assert.Contains(t, string(data), `"origin":"https://a.example"`)
}

func TestFallbacks(t *testing.T) {
	assert.NotNil(t, NewDefault())
	assert.NotNil(t, NewDevelopment())
	assert.NotNil(t, NewNop())
}
