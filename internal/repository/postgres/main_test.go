package postgres

import (
	"os"
	"testing"

	"finanalyst/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "test")
	os.Exit(m.Run())
}
