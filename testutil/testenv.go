// Package testutil provides shared test environment helpers for E2E tests.
// It depends only on stdlib so that E2E tests (which cannot import
// internal/) can use it.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// isolatedPrefixes are the variables IsolatedEnv replaces rather than
// inherits from the parent process.
var isolatedPrefixes = []string{
	"HOME=",
	"XDG_CONFIG_HOME=",
	"XDG_DATA_HOME=",
	"OFFLINEQ_",
}

// IsolatedEnv returns an environment for a child offlineq process that
// keeps HOME, XDG directories and every OFFLINEQ_* override inside root.
// extra entries ("KEY=value") are appended last and win.
func IsolatedEnv(root string, extra ...string) []string {
	env := make([]string, 0, len(os.Environ())+len(extra)+3)

	for _, kv := range os.Environ() {
		if hasAnyPrefix(kv, isolatedPrefixes) {
			continue
		}

		env = append(env, kv)
	}

	env = append(env,
		"HOME="+root,
		"XDG_CONFIG_HOME="+filepath.Join(root, "config"),
		"XDG_DATA_HOME="+filepath.Join(root, "data"),
	)

	return append(env, extra...)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}

	return false
}

// WaitFor polls cond every 20ms until it returns true or timeout elapses.
// It reports whether cond became true.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)

	for {
		if cond() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		time.Sleep(20 * time.Millisecond)
	}
}
