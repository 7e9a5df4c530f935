package main

import (
	"path/filepath"
	"testing"

	"seatboard/internal/config"
)

func TestRun_RejectsInvalidConfigFile(t *testing.T) {
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "missing.json"))
	if err := run(); err == nil {
		t.Error("run should fail when the config file cannot be read")
	}
}

func TestRun_RejectsBadLogLevel(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv("SEATBOARD_LOG_LEVEL", "loud")
	if err := run(); err == nil {
		t.Error("run should fail on an unknown log level")
	}
}
