package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// UnmarshalRepaired unmarshals LLM output into target, repairing the
// malformed JSON models commonly produce (markdown fences, trailing
// commas, single quotes) before giving up.
func UnmarshalRepaired(raw string, target any) error {
	trimmed := stripFences(raw)

	if err := json.Unmarshal([]byte(trimmed), target); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return fmt.Errorf("failed to repair model output: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return fmt.Errorf("repaired output is still not valid JSON: %w", err)
	}
	return nil
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}
