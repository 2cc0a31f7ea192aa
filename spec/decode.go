package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CheckDuplicateKeys walks a JSON value token-by-token, recursing into
// every nested object and array element, and reports an error if any
// object along the way has a key that appears twice — a detail
// encoding/json silently allows (the last value wins) and that a
// RESPONSE/ERROR body should never rely on. Returns nil when no object in
// the value has a repeated key (so always for scalars), and for malformed
// JSON, which the caller's own json.Unmarshal will report.
func CheckDuplicateKeys(data []byte, context string) error {
	return checkValueDuplicates(bytes.TrimSpace(data), context)
}

// checkValueDuplicates dispatches on raw's leading byte: an object is
// walked by checkObjectDuplicates, an array's elements are each checked
// in turn, and anything else (string, number, bool, null, or malformed
// JSON) has no keys to duplicate.
func checkValueDuplicates(raw []byte, context string) error {
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '{':
		return checkObjectDuplicates(json.NewDecoder(bytes.NewReader(raw)), context)
	case '[':
		return checkArrayDuplicates(raw, context)
	default:
		return nil
	}
}

func checkArrayDuplicates(raw []byte, context string) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	t, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := t.(json.Delim); !ok || delim != '[' {
		return nil
	}
	for dec.More() {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			return nil
		}
		if err := checkValueDuplicates(bytes.TrimSpace(elem), context); err != nil {
			return err
		}
	}
	return nil
}

func checkObjectDuplicates(dec *json.Decoder, context string) error {
	t, err := dec.Token()
	if err != nil {
		return nil
	}
	delim, ok := t.(json.Delim)
	if !ok || delim != '{' {
		return nil // not an object
	}

	seen := make(map[string]bool)
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := t.(string)
		if !ok {
			return nil
		}
		if seen[key] {
			return fmt.Errorf("duplicate %s key: %q", context, key)
		}
		seen[key] = true

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil
		}
		if err := checkValueDuplicates(bytes.TrimSpace(value), context); err != nil {
			return err
		}
	}
	return nil
}
