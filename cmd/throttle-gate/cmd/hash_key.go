package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate SHA256 hash for an admin API key",
	Long: `Generate a SHA256 hash of an admin API key for use in config.

The output format is "sha256:<hex>" which can be directly used
in the admin.api_keys.hash field.

Example:
  throttle-gate hash-key "my-secret-admin-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  throttle-gate hash-key "$MY_ADMIN_KEY"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		hash := sha256.Sum256([]byte(key))
		fmt.Printf("sha256:%s\n", hex.EncodeToString(hash[:]))
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
