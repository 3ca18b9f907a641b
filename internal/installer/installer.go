// Package installer provides the dependency-install collaborator invoked
// whenever the session's manifest file is written.
package installer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/codefionn/devsync/internal/logger"
)

// Installer installs project dependencies from a manifest file. Failures are
// reported to the caller, which logs and relays them; they never abort a
// session.
type Installer interface {
	Install(ctx context.Context, manifestPath, installRoot string) error
}

// CommandInstaller runs a configured command (npm install by default) in the
// install root.
type CommandInstaller struct {
	command []string
}

// NewCommandInstaller creates an installer running the given command. An
// empty command falls back to "npm install".
func NewCommandInstaller(command []string) *CommandInstaller {
	if len(command) == 0 {
		command = []string{"npm", "install"}
	}
	return &CommandInstaller{command: command}
}

// Install runs the install command in installRoot.
func (i *CommandInstaller) Install(ctx context.Context, manifestPath, installRoot string) error {
	logger.Info("installing dependencies in %s (manifest %s)", installRoot, manifestPath)

	cmd := exec.CommandContext(ctx, i.command[0], i.command[1:]...)
	cmd.Dir = installRoot

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", strings.Join(i.command, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Noop is an Installer that does nothing, for configurations without a
// dependency step and for tests.
type Noop struct{}

func (Noop) Install(ctx context.Context, manifestPath, installRoot string) error {
	return nil
}

var (
	_ Installer = (*CommandInstaller)(nil)
	_ Installer = Noop{}
)
