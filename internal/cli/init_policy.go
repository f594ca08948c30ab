package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/callguard/internal/policy"
)

var initPolicyOutput string

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().StringVarP(&initPolicyOutput, "output", "o", "", "Write to this path instead of ~/.callguard/policy.yaml")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Generate a starter policy.yaml with comments",
	Long:  "Creates ~/.callguard/policy.yaml with example tools and schemas.\nEdit this file to grant rings and required args per tool.",
	Args:  cobra.NoArgs,
	RunE:  runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	path := initPolicyOutput
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, ".callguard", "policy.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("policy.yaml already exists at %s", path)
	}

	if err := os.WriteFile(path, []byte(policy.DefaultConfigYAML()), 0644); err != nil {
		return fmt.Errorf("failed to write policy.yaml: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}
