package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RequireFields returns a Validator that accepts only JSON objects in which
// every named field is present, non-null and, for strings, non-blank.
func RequireFields(fields ...string) Validator {
	return func(payload json.RawMessage) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
			return errors.New("payload must be a JSON object")
		}

		var errs []error

		for _, f := range fields {
			raw, ok := obj[f]
			if !ok || string(raw) == "null" {
				errs = append(errs, fmt.Errorf("missing field %q", f))
				continue
			}

			var s string
			if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) == "" {
				errs = append(errs, fmt.Errorf("field %q must not be empty", f))
			}
		}

		return errors.Join(errs...)
	}
}
