package reconutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalize recursively copies v, rebuilding every map[string]interface{}
// and []interface{} it contains; any other value is returned as it is.
// json.Marshal of the result is deterministic regardless of input map key
// order.
//
// encoding/json already sorts map[string]T keys on marshal, so the only
// thing this buys over a direct json.Marshal is documentation of the
// contract; it is kept as an explicit step so the hashing contract in
// SHA256Of does not silently depend on an encoding/json implementation
// detail.
func canonicalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

// CanonicalJSON returns the canonical (key-sorted, whitespace-free, UTF-8)
// JSON encoding of v.
func CanonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(canonicalize(v))
}

// SHA256Of returns the hex-encoded SHA-256 digest of the canonical JSON
// encoding of v.
func SHA256Of(v interface{}) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
