package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec. It is the most portable option;
// map keys are sorted, so hierarchy query responses marshal
// deterministically.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured. Persisted metadata is
// self-describing (the manifest stores the codec name), so the default may
// change between releases without breaking existing indexes.
var Default Codec = GoJSON{}
