package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a deterministic key from an operation name and its
// parameters. Parameters are normalized through JSON so map ordering and
// struct-vs-map representations of the same data collapse to one key.
func Fingerprint(operation string, params any) (string, error) {
	normalized, err := normalize(params)
	if err != nil {
		return "", fmt.Errorf("failed to normalize params for %s: %w", operation, err)
	}

	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(normalized)
	return operation + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

func normalize(params any) ([]byte, error) {
	if params == nil {
		return []byte("null"), nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	// Numbers stay literal; float64 would merge integers above 2^53.
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
