package guardrail

import "encoding/json"

// structuredToJSON re-encodes a provider's already-decoded structured
// response so it can be pushed back through ports.DecodeStructured, which
// operates on raw bytes so it can fall back to jsonrepair. Providers hand
// back map[string]any rather than bytes because the adapter layer already
// did the provider-SDK-specific decoding; this keeps DecodeStructured as
// the single place that knows about schema-shape mismatches.
func structuredToJSON(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}
