package pluginkit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timeouts are the per-tool timeout knobs. Both accept Go duration strings.
//
//	"timeouts": {
//	  "command": "15s",   // command and button handlers
//	  "operation": "1m"   // one async operation (key generation, download, fetch)
//	}
type Timeouts struct {
	Command   string `json:"command,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// UnmarshalJSON rejects unknown keys so a typo does not silently fall back
// to the default.
func (t *Timeouts) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*t = Timeouts{}
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out Timeouts
	for k, v := range m {
		var dst *string
		switch k {
		case "command":
			dst = &out.Command
		case "operation":
			dst = &out.Operation
		default:
			return fmt.Errorf("unknown timeouts field %q (supported: command, operation)", k)
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("timeouts.%s: %w", k, err)
		}
	}
	*t = out
	return nil
}

// Validate checks both durations. prefix names the block in errors,
// e.g. "pgp.timeouts".
func (t Timeouts) Validate(prefix string) error {
	for name, v := range map[string]string{"command": t.Command, "operation": t.Operation} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s.%s: %w", prefix, name, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s.%s: must be positive", prefix, name)
		}
	}
	return nil
}

func (t Timeouts) CommandOr(def time.Duration) time.Duration   { return durationOr(t.Command, def) }
func (t Timeouts) OperationOr(def time.Duration) time.Duration { return durationOr(t.Operation, def) }

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
