package webhook

import (
	"bytes"
	"encoding/json"
)

// The webhook service has historically shipped the same payload in at
// least three envelopes: a bare object, a one-element array, and an array
// of {json: ...} wrappers. unwrapEnvelope tries each known shape in order
// and returns the first that matches, together with the matcher name for
// diagnostics. A miss on every shape is the caller's FormatError.

type envelopeMatch struct {
	name  string
	match func(raw []byte) (json.RawMessage, bool)
}

var envelopeMatchers = []envelopeMatch{
	{name: "object", match: matchBareObject},
	{name: "wrapped_array", match: matchWrappedArray},
	{name: "array", match: matchElementArray},
}

func unwrapEnvelope(raw []byte) (json.RawMessage, string, bool) {
	for _, m := range envelopeMatchers {
		if payload, ok := m.match(raw); ok {
			return payload, m.name, true
		}
	}
	return nil, "", false
}

// matchBareObject accepts a plain top-level JSON object.
func matchBareObject(raw []byte) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	if !json.Valid(trimmed) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// matchWrappedArray accepts [{"json": {...}}, ...], unwrapping the first
// element's json field. Checked before the plain array shape because a
// wrapped array is also a valid one-element array and would otherwise
// yield the wrapper instead of the payload.
func matchWrappedArray(raw []byte) (json.RawMessage, bool) {
	var elems []struct {
		JSON json.RawMessage `json:"json"`
	}
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false
	}
	if len(elems) == 0 || len(elems[0].JSON) == 0 {
		return nil, false
	}
	return elems[0].JSON, true
}

// matchElementArray accepts a non-empty array and returns its first
// element.
func matchElementArray(raw []byte) (json.RawMessage, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false
	}
	if len(elems) == 0 {
		return nil, false
	}
	trimmed := bytes.TrimSpace(elems[0])
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// fieldComplaints decodes the service's errors[] list, which has been
// observed both as plain strings and as {field, message} objects.
type fieldComplaints []string

func (f *fieldComplaints) UnmarshalJSON(data []byte) error {
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		*f = plain
		return nil
	}

	var structured []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &structured); err != nil {
		// Unknown complaint shape: keep the call alive, lose the detail.
		*f = nil
		return nil
	}
	out := make([]string, 0, len(structured))
	for _, c := range structured {
		switch {
		case c.Field != "" && c.Message != "":
			out = append(out, c.Field+": "+c.Message)
		case c.Message != "":
			out = append(out, c.Message)
		case c.Field != "":
			out = append(out, c.Field)
		}
	}
	*f = out
	return nil
}
