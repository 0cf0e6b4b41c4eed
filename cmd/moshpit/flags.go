package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func validateRunOptions(opts runOptions) error {
	if strings.TrimSpace(opts.ConfigPath) == "" {
		return fmt.Errorf("pipeline file is required")
	}

	abs, err := filepath.Abs(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("resolve pipeline path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("pipeline file does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("pipeline path %s is a directory", abs)
	}

	return nil
}
