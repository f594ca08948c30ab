package cli

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/session"
)

var (
	sessionProject      string
	sessionTask         string
	sessionIntent       string
	sessionAllow        []string
	sessionSkipReadback bool
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionNewCmd)
	sessionNewCmd.Flags().StringVar(&sessionProject, "project", "", "Project id")
	sessionNewCmd.Flags().StringVar(&sessionTask, "task", "", "Task id (required)")
	sessionNewCmd.Flags().StringVar(&sessionIntent, "intent", "", "What the task is for")
	sessionNewCmd.Flags().StringSliceVar(&sessionAllow, "allow", nil, "Allowed tool ids; integers are kept numeric (repeatable)")
	sessionNewCmd.Flags().BoolVar(&sessionSkipReadback, "no-readback", false, "Do not require a readback token")
	sessionNewCmd.MarkFlagRequired("task")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Capability session operations",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Build a capability session",
	Long: "Builds a session for a task and prints it as JSON, including the\n" +
		"readback token the agent must echo. Pipe it into an evaluate request.",
	Args: cobra.NoArgs,
	RunE: runSessionNew,
}

func runSessionNew(cmd *cobra.Command, args []string) error {
	s, err := session.NewBuilder().Build(session.Input{
		ProjectID:      sessionProject,
		TaskID:         sessionTask,
		Intent:         sessionIntent,
		AllowedToolIDs: parseToolIDs(sessionAllow),
		SkipReadback:   sessionSkipReadback,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// parseToolIDs keeps integer-looking ids numeric, everything else textual.
func parseToolIDs(raw []string) []model.ToolID {
	ids := make([]model.ToolID, 0, len(raw))
	for _, r := range raw {
		if r == "" {
			continue
		}
		if n, err := strconv.ParseInt(r, 10, 64); err == nil {
			ids = append(ids, model.IntID(n))
			continue
		}
		ids = append(ids, model.StringID(r))
	}
	return ids
}
