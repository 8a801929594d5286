package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
)

// ErrOutput is where ShowError writes. Tests swap it out.
var ErrOutput io.Writer = os.Stderr

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// The process is killed when ctx is cancelled.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError is the unified error report for facevote.
// It prints a formatted error box and dumps Python logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(ErrOutput, "\n---------------------------------------------------------\n")
	fmt.Fprintf(ErrOutput, "🚨 FACEVOTE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(ErrOutput, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(ErrOutput, "\nPYTHON CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(ErrOutput, "---------------------------------------------------------\n")
}

// --- 2. Viewer ---

// OpenViewer launches the platform image viewer on path without waiting for it to exit.
func OpenViewer(ctx context.Context, path string) error {
	name, args := viewerCommand(runtime.GOOS, path)
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("image viewer %q not found: %w", name, err)
	}
	cmd := NewSafeCommand(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

func viewerCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "cmd", []string{"/c", "start", "", path}
	default:
		return "xdg-open", []string{path}
	}
}
