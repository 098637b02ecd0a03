package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/throttle-gate/throttlegate/internal/config"
)

var (
	resetIncludeDecisions bool
	resetForce            bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset Throttle Gate to a clean state",
	Long: `Reset Throttle Gate by removing persistent state files.

By default, only state.json (and its backup) is removed. This clears all
routing rules and admin API keys created via the admin API.

On next start, Throttle Gate will boot from your YAML config (if present)
or from the built-in defaults.

Optional flags:
  --include-decisions   Also remove decision log files
  --force               Skip confirmation prompt

Examples:
  # Reset state only (interactive confirmation)
  throttle-gate reset

  # Reset everything without prompting
  throttle-gate reset --include-decisions --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeDecisions, "include-decisions", false, "Also remove decision log files")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	// Resolve state file path (same logic as start command).
	statePath := resolveStatePath("")

	// Build list of targets to remove.
	type target struct {
		path string
		desc string
	}
	var targets []target

	// Always include state.json and its backup.
	targets = append(targets, target{statePath, "state file"})
	targets = append(targets, target{statePath + ".bak", "state backup"})

	// Optional: decision logs.
	if resetIncludeDecisions {
		cfg, err := loadConfigForReset()
		if err == nil && cfg.DecisionLog.File.Dir != "" {
			targets = append(targets, target{cfg.DecisionLog.File.Dir, "decision log directory"})
		}
		if err == nil && cfg.DecisionLog.Output != "" && cfg.DecisionLog.Output != "stdout" {
			// Format is "file:///path/to/decisions.log"
			if path := parseFileURI(cfg.DecisionLog.Output); path != "" {
				targets = append(targets, target{path, "decision log"})
			}
		}
	}

	// Check what actually exists.
	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset, no state files found.")
		return nil
	}

	// Show what will be removed.
	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	// Confirm unless --force.
	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	// Remove targets.
	var errors int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			errors++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if errors > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errors)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. Throttle Gate will start fresh on next launch.")
	return nil
}

// loadConfigForReset attempts to load config to discover decision log
// paths. Returns a zero config on error (non-fatal for reset).
func loadConfigForReset() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return &config.Config{}, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

// parseFileURI extracts the file path from a "file:///path" URI.
// On Windows, handles file:///C:/path → C:/path (strips extra leading slash).
func parseFileURI(uri string) string {
	const prefix = "file://"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		path := uri[len(prefix):]
		// On Windows, file:///C:/path produces /C:/path after prefix trim.
		// Remove the leading slash before a drive letter.
		if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
			path = path[1:]
		}
		return path
	}
	return ""
}
