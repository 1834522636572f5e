package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"testing"

	"github.com/spf13/cobra"

	"openpalace/internal/engine"
)

func seedOneEntity(t *testing.T, storeRoot string) error {
	t.Helper()
	e, err := engine.New(context.Background(), storeRoot)
	if err != nil {
		return err
	}
	defer e.Close()
	_, err = e.EntityCreate(context.Background(), "prime", "Prime", "primary agent", "hello")
	return err
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestConfigReferenceCommandPrintsEveryTunable(t *testing.T) {
	dataDir = t.TempDir()
	output := captureStdout(t, func() {
		if err := configReferenceCmd.RunE(testCommand(), nil); err != nil {
			t.Fatalf("configReferenceCmd.RunE: %v", err)
		}
	})
	if len(output) == 0 {
		t.Fatalf("expected non-empty reference listing")
	}
}

func TestConfigGetCommandPrintsWholeDocumentWithoutArgs(t *testing.T) {
	dataDir = t.TempDir()
	output := captureStdout(t, func() {
		if err := configGetCmd.RunE(testCommand(), nil); err != nil {
			t.Fatalf("configGetCmd.RunE: %v", err)
		}
	})
	if len(output) == 0 {
		t.Fatalf("expected the config document to print")
	}
}

// runHealth calls os.Exit(1) on an unhealthy report, which would abort
// the test binary, so only the healthy path (no process exit) is
// exercised directly here; the unhealthy path is covered by
// internal/health's own tests.
func TestHealthCommandSucceedsOnceAnEntityExists(t *testing.T) {
	requireGit(t)
	dataDir = t.TempDir()

	if err := seedOneEntity(t, dataDir); err != nil {
		t.Fatalf("seedOneEntity: %v", err)
	}

	output := captureStdout(t, func() {
		if err := runHealth(testCommand(), nil); err != nil {
			t.Fatalf("runHealth: %v", err)
		}
	})
	if len(output) == 0 {
		t.Fatalf("expected a JSON health report to print")
	}
}
