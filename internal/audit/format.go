package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Task: %s | No violations recorded.\n", result.TaskID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s | %s to %s UTC\n", result.TaskID,
		formatDate(result.Summary.FirstTimestamp), formatTime(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		fmt.Fprintf(&b, "%-10s %-26s %s\n", formatTime(e.Timestamp), truncate(string(e.Kind), 26), formatDetail(e.Detail))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDate(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return truncate(strings.Join(parts, " "), 60)
}

func formatSummary(s ReplaySummary) string {
	families := make([]string, 0, len(s.ByFamily))
	for f := range s.ByFamily {
		families = append(families, f)
	}
	sort.Strings(families)

	parts := make([]string, 0, len(families))
	for _, f := range families {
		parts = append(parts, fmt.Sprintf("%d %s", s.ByFamily[f], f))
	}
	return fmt.Sprintf("Summary: %d violations | %s\n", s.Total, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
