package opcache

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key derives the cache key for (opType, params). Params are canonicalized
// through a marshal/unmarshal round trip so that logically equal inputs
// (map key order, struct vs map) hash identically, then digested with
// xxhash64. Unserializable params are an error: such operations must not
// be cached.
func Key(opType OpType, params any) (string, error) {
	canonical, err := canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache params: %w", err)
	}
	h := xxhash.New()
	h.WriteString(string(opType))
	h.WriteString(":")
	h.Write(canonical)
	return fmt.Sprintf("%s:%016x", opType, h.Sum64()), nil
}

// canonicalize round-trips params through generic JSON. encoding/json sorts
// map keys on marshal, so the second encoding is order-independent.
func canonicalize(params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
