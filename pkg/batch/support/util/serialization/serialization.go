// Package serialization converts checkpoints and job parameters to and from JSON.
// Numbers are decoded with json.Number so that integer positions (offsets, line
// counts, page indexes) survive a round trip as int64 rather than float64.
package serialization

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const maskedValue = "********"

var (
	maskMu     sync.RWMutex
	maskedKeys = []string{"password", "secret", "token"}
)

// SetMaskedParameterKeys replaces the parameter keys whose values are hidden in logs and persisted parameters.
func SetMaskedParameterKeys(keys []string) {
	maskMu.Lock()
	defer maskMu.Unlock()
	maskedKeys = append([]string(nil), keys...)
}

// MaskedParameterKeys returns the configured masked keys.
func MaskedParameterKeys() []string {
	maskMu.RLock()
	defer maskMu.RUnlock()
	return append([]string(nil), maskedKeys...)
}

// GetMaskedJobParametersMap returns a copy of params with sensitive values masked.
func GetMaskedJobParametersMap(params map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range MaskedParameterKeys() {
		if _, ok := masked[key]; ok {
			masked[key] = maskedValue
		}
	}
	return masked
}

// MarshalExecutionContext serializes a checkpoint map. A nil map becomes "{}".
func MarshalExecutionContext(ec map[string]interface{}) ([]byte, error) {
	if ec == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, exception.NewBatchError("serialization", "failed to serialize ExecutionContext", err, false, false)
	}
	return data, nil
}

// UnmarshalExecutionContext decodes data into a fresh map, normalizing numbers.
func UnmarshalExecutionContext(data []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, exception.NewBatchError("serialization", "failed to deserialize ExecutionContext", err, false, false)
	}
	for k, v := range out {
		out[k] = normalize(v)
	}
	return out, nil
}

// MarshalJobParameters serializes params with sensitive keys masked.
func MarshalJobParameters(params map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(GetMaskedJobParametersMap(params))
	if err != nil {
		return nil, exception.NewBatchError("serialization", "failed to serialize JobParameters", err, false, false)
	}
	return data, nil
}

// UnmarshalJobParameters decodes persisted parameters, normalizing numbers.
func UnmarshalJobParameters(data []byte) (map[string]interface{}, error) {
	out, err := UnmarshalExecutionContext(data)
	if err != nil {
		return nil, exception.NewBatchError("serialization", "failed to deserialize JobParameters", err, false, false)
	}
	return out, nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = normalize(inner)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = normalize(inner)
		}
		return t
	}
	return v
}
