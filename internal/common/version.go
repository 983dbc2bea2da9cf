// Package common provides shared utilities for Tiller
package common

// Set via -ldflags at build time.
var (
	version   = "dev"
	build     = "local"
	gitCommit = "unknown"
)

// GetVersion returns the semantic version
func GetVersion() string { return version }

// GetBuild returns the build identifier
func GetBuild() string { return build }

// GetGitCommit returns the git commit hash
func GetGitCommit() string { return gitCommit }
