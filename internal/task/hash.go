package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainTask separates Task hashes from any other hash in the agent.
const DomainTask = "orchd/task/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of a Task within a table. Two Tasks with the
// same table, key, op and ordered fields hash identically.
func Hash(table string, t Task) (string, error) {
	obj := t.canonicalObject()
	obj["table"] = table
	b, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("task hash: %w", err)
	}
	return hashWithDomain(DomainTask, b), nil
}

// ShortHash is the first twelve hex digits of Hash, for log correlation.
// Tasks carry only strings, so Hash cannot fail for them.
func ShortHash(table string, t Task) string {
	h, err := Hash(table, t)
	if err != nil {
		return ""
	}
	return h[:12]
}
