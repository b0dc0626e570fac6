package repository_test

import (
	"os"
	"testing"

	"github.com/ayo6706/transfer-orchestrator/internal/testutil/dblock"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}
