package archiver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/oshokin/relpack/internal/domain/release"
	"github.com/oshokin/relpack/internal/logger"
)

// Hooks are the extension points around packaging.
type Hooks interface {
	// BeforePackage may return a modified release or fail.
	BeforePackage(ctx context.Context, rel *release.Release) (*release.Release, error)
	// AfterPackage runs after the final archive is written; only its error matters.
	AfterPackage(ctx context.Context, rel *release.Release) error
}

// NopHooks leaves the release untouched.
type NopHooks struct{}

// BeforePackage returns rel unchanged.
func (NopHooks) BeforePackage(_ context.Context, rel *release.Release) (*release.Release, error) {
	return rel, nil
}

// AfterPackage does nothing.
func (NopHooks) AfterPackage(context.Context, *release.Release) error {
	return nil
}

// HookFuncs adapts plain functions to Hooks. Nil functions are skipped.
type HookFuncs struct {
	Before func(ctx context.Context, rel *release.Release) (*release.Release, error)
	After  func(ctx context.Context, rel *release.Release) error
}

// BeforePackage calls Before, if set.
func (h HookFuncs) BeforePackage(ctx context.Context, rel *release.Release) (*release.Release, error) {
	if h.Before == nil {
		return rel, nil
	}

	return h.Before(ctx, rel)
}

// AfterPackage calls After, if set.
func (h HookFuncs) AfterPackage(ctx context.Context, rel *release.Release) error {
	if h.After == nil {
		return nil
	}

	return h.After(ctx, rel)
}

// CommandHooks runs shell commands around packaging. Commands see the
// release through RELEASE_* environment variables and run in Dir.
type CommandHooks struct {
	// Pre runs before the initial build.
	Pre []string
	// Post runs after the final archive is written.
	Post []string
	// Dir is the working directory of the commands.
	Dir string
}

// maxHookOutput bounds the command output quoted in errors.
const maxHookOutput = 2048

// BeforePackage runs the pre-package commands; the release is returned unchanged.
func (h *CommandHooks) BeforePackage(ctx context.Context, rel *release.Release) (*release.Release, error) {
	if err := h.run(ctx, "pre_package", h.Pre, rel); err != nil {
		return nil, err
	}

	return rel, nil
}

// AfterPackage runs the post-package commands.
func (h *CommandHooks) AfterPackage(ctx context.Context, rel *release.Release) error {
	return h.run(ctx, "post_package", h.Post, rel)
}

func (h *CommandHooks) run(ctx context.Context, name string, commands []string, rel *release.Release) error {
	for _, command := range commands {
		logger.InfoKV(ctx, "Running hook", "hook", name, "command", command)

		cmd := shellCommand(ctx, command)
		cmd.Dir = h.Dir
		cmd.Env = append(os.Environ(),
			"RELEASE_NAME="+rel.Name,
			"RELEASE_VERSION="+rel.Version,
			"RELEASE_OUTPUT_DIR="+rel.OutputDir,
			"RELEASE_ARCHIVE="+rel.ArchiveFile(),
			"RELEASE_UPGRADE="+strconv.FormatBool(rel.IsUpgrade),
		)

		var output bytes.Buffer

		cmd.Stdout = &output
		cmd.Stderr = &output

		err := cmd.Run()

		if text := strings.TrimSpace(output.String()); text != "" {
			logger.DebugKV(ctx, "Hook output", "hook", name, "output", text)
		}

		if err != nil {
			return fmt.Errorf("%s hook %q: %w: %s", name, command, err, tail(output.String(), maxHookOutput))
		}
	}

	return nil
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd.exe", "/C", command)
	}

	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}

	return "..." + s[len(s)-limit:]
}
