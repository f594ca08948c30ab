package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/callguard/internal/engine"
)

var evaluateFormat string

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evaluateFormat, "format", "f", "json", "Output format (json|text)")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [request.json]",
	Short: "Decide one tool call",
	Long: "Reads an evaluate request {session, call, policy?} from a file or stdin\n" +
		"and prints the execution result. Without an inline policy the tool's\n" +
		"entry in the policy file is used.\n\n" +
		"Exit code 0 if the call may execute, 1 if it is blocked,\n" +
		"2 if the request is malformed.",
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	req, err := engine.DecodeEvaluateRequest(data)
	if err != nil {
		return err
	}

	e, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Evaluate(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch evaluateFormat {
	case "text":
		if res.Executed {
			fmt.Fprintf(out, "ALLOW  tool=%s\n", res.Call.ToolID)
		} else {
			fmt.Fprintf(out, "BLOCK  tool=%s\n", res.Call.ToolID)
		}
		for _, v := range res.Violations {
			detail, _ := json.Marshal(v.Detail)
			fmt.Fprintf(out, "  %-22s %s\n", v.Kind, detail)
		}
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	}

	if !res.Executed {
		return &exitError{code: exitFailure}
	}
	return nil
}

// readInput reads the first argument as a file path, or stdin when the
// argument is absent or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}
