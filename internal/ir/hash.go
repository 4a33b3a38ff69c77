package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainUpdate = "kinrule/update/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// UpdateKey computes the content-addressed key of a remote update.
// The key depends only on the target record and the field values, so the
// same computed identifier always yields the same key.
func UpdateKey(appID, recordID string, fields Record) (string, error) {
	obj := map[string]any{
		"app":    appID,
		"id":     recordID,
		"record": fields,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("UpdateKey: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainUpdate, canonical), nil
}

