package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is the envelope id member: a string or a number, opaque to the
// server and echoed back verbatim on the response. The zero value marks an
// absent id.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric value. Any other type yields an
// absent id.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return &RequestID{value: value}
	}
	return &RequestID{}
}

// String renders the id for log correlation. Absent ids render empty.
func (id *RequestID) String() string {
	switch v := id.Value().(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Value returns the underlying string or number, or nil when absent.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil reports whether the id is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		// integral JSON numbers round-trip as int64, not 4.2e1 notation
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}

	// An explicit null id is accepted and treated as absent.
	if string(data) == "null" {
		id.value = nil
		return nil
	}

	return fmt.Errorf("id must be a string or a number, got %s", data)
}
