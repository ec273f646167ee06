package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger, err := New("debug")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger, err = New("")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	_, err = New("loud")
	assert.Error(t, err)
}

func TestWorkerLogName(t *testing.T) {
	assert.Equal(t, "ID-3_2023-05-10.log", WorkerLogName(3, "2023-05-10"))
}

func TestTeeToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := New("info")
	require.NoError(t, err)

	closer, err := TeeToFile(logger, dir, WorkerLogName(1, "2023-05-10"))
	require.NoError(t, err)

	logger.WithField("day", "2023-05-10").Info("day completed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "ID-1_2023-05-10.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "day completed")
	assert.Contains(t, string(data), "day=2023-05-10")
}
