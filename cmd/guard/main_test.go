package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/embyguard/emby-guard/internal/config"
	"github.com/spf13/cobra"
)

// buildRoot constructs the root command as main() does, for use in tests.
func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "guard",
		Short: "Authorization and notification gateway for an Emby media server",
	}
	root.AddCommand(runCmd(), healthcheckCmd(), versionCmd())
	return root
}

// TestRootSubcommands verifies all expected subcommands are registered.
func TestRootSubcommands(t *testing.T) {
	root := buildRoot()

	registered := make(map[string]bool)
	for _, cmd := range root.Commands() {
		registered[cmd.Use] = true
	}

	for _, want := range []string{"run", "version", "healthcheck"} {
		if !registered[want] {
			t.Errorf("subcommand %q not registered on root command", want)
		}
	}
}

// TestVersionOutput verifies the version subcommand prints the binary name.
func TestVersionOutput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	oldStdout := os.Stdout
	os.Stdout = w

	root := buildRoot()
	root.SetArgs([]string{"version"})
	execErr := root.Execute()

	w.Close()
	os.Stdout = oldStdout

	if execErr != nil {
		t.Fatalf("version command returned error: %v", execErr)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "emby-guard") {
		t.Errorf("version output %q does not contain expected string %q", buf.String(), "emby-guard")
	}
}

// TestRunDaemonMissingConfig verifies runDaemon returns an error (not panics)
// when EMBY_URL is not set.
func TestRunDaemonMissingConfig(t *testing.T) {
	t.Setenv("EMBY_URL", "")

	err := runDaemon()
	if err == nil {
		t.Fatal("expected runDaemon() to return an error when EMBY_URL is missing")
	}
}

// TestLoadMissingRequired verifies config.Load returns a descriptive error
// when required environment variables are absent.
func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("EMBY_URL", "")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected config.Load() to return an error with missing required vars")
	}
	if !strings.Contains(err.Error(), "EMBY_URL") {
		t.Errorf("expected error message to mention EMBY_URL; got: %v", err)
	}
}

func TestProbeAddr(t *testing.T) {
	if got := probeAddr(":8080"); got != "localhost:8080" {
		t.Errorf("probeAddr: %q", got)
	}
	if got := probeAddr("10.0.0.5:8080"); got != "10.0.0.5:8080" {
		t.Errorf("probeAddr: %q", got)
	}
}
