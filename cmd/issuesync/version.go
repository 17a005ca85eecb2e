package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version of issuesync (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
	// Commit is the git revision the binary was built from (optional ldflag)
	Commit = ""
)

func newVersionCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			commit := resolveCommitHash()
			if s.jsonOutput {
				result := map[string]string{"version": Version, "build": Build}
				if commit != "" {
					result["commit"] = commit
				}
				return writeJSON(cmd.OutOrStdout(), result)
			}
			if commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "issuesync version %s (%s: %s)\n", Version, Build, shortCommit(commit))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "issuesync version %s (%s)\n", Version, Build)
			}
			return nil
		},
	}
}

// resolveCommitHash reads the VCS revision stamped into the binary.
func resolveCommitHash() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}

func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
