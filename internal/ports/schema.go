package ports

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeStructured unmarshals a TextLLM/VisionLLM structured-schema
// response into dst. LLMs occasionally emit near-valid JSON (trailing
// commas, unescaped quotes); rather than treat every formatting slip as a
// PermanentError, a failed first unmarshal is retried once against a
// jsonrepair'd copy of raw. Only a repair-and-retry failure is surfaced as
// a schema validation error (spec.md §4.1, §7).
func DecodeStructured(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(raw))
	if repairErr != nil {
		return &PermanentError{
			Code:    "SCHEMA_VALIDATION_ERROR",
			Message: fmt.Sprintf("structured response is not valid JSON and could not be repaired: %v", repairErr),
		}
	}

	if err := json.Unmarshal([]byte(repaired), dst); err != nil {
		return &PermanentError{
			Code:    "SCHEMA_VALIDATION_ERROR",
			Message: fmt.Sprintf("repaired structured response still does not validate: %v", err),
			Cause:   err,
		}
	}
	return nil
}
