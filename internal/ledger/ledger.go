// Package ledger implements the tamper-evident settlement record
// primitives: canonical JSON, payload hashing and HMAC signatures.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize renders v as JSON with object keys sorted recursively,
// so two encodings of the same settlement hash identically regardless
// of field order. Round-tripping through map[string]any gives sorted
// keys because encoding/json sorts map keys on output.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to rebuild payload: %w", err)
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return out, nil
}

// Hash returns the hex SHA-256 of a canonical payload.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Sign returns the hex HMAC-SHA256 of a payload hash under the shared
// ledger secret.
func Sign(payloadHash string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payloadHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payloadHash under
// secret, in constant time.
func VerifySignature(payloadHash, signature string, secret []byte) bool {
	return hmac.Equal([]byte(Sign(payloadHash, secret)), []byte(signature))
}
