package main

import "fmt"

// Set with -ldflags "-X main.Version=...".
var (
	Version   = "dev" // default fallback
	Commit    = "none"
	BuildTime = "unknown"
)

func buildInfo() string {
	return fmt.Sprintf("%s version %s (commit: %s, built: %s)", appName, Version, Commit, BuildTime)
}
