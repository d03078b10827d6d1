package migration

import (
	"fmt"
)

// Mode selects the ingestion path. It is fixed when the adapter is
// constructed; switching modes means constructing a new adapter, never
// mutating one mid-flight.
type Mode string

const (
	// ModeLegacy writes directly to the vector backend, bypassing the
	// ingestion host.
	ModeLegacy Mode = "legacy"
	// ModeHybrid performs the legacy write and additionally submits an
	// equivalent knowledge packet, for side-by-side validation during
	// migration.
	ModeHybrid Mode = "hybrid"
	// ModeMCP ingests exclusively through validated knowledge packets
	// and the ingestion host.
	ModeMCP Mode = "mcp"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLegacy, ModeHybrid, ModeMCP:
		return Mode(s), nil
	}
	return "", &ConfigurationError{
		Field:  "mode",
		Reason: fmt.Sprintf("unknown ingestion mode %q (want legacy, hybrid, or mcp)", s),
	}
}

// ConfigurationError reports an invalid adapter configuration. It is
// fatal at construction time, never at request time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("migration configuration error: %s: %s", e.Field, e.Reason)
}
