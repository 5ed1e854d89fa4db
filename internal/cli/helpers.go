package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/updraft-io/updraft/internal/config"
	"github.com/updraft-io/updraft/internal/logging"
)

// ExitError carries a specific process exit code through cobra. A build
// that completes but leaves units failed or skipped exits 2, so scripts
// can tell a degraded run from a fatal one.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// projectRoot resolves the optional positional path argument to an
// absolute project directory, defaulting to the working directory.
func projectRoot(args []string) (string, error) {
	if len(args) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return wd, nil
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", args[0])
	}
	return absPath, nil
}

// loadProject resolves the project root and its configuration, then
// initializes logging from it.
func loadProject(args []string, env string) (*config.Config, string, error) {
	root, err := projectRoot(args)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(root, env)
	if err != nil {
		return nil, "", err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Init(level, cfg.LogFormat)

	return cfg, root, nil
}
