package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainStep   = "prepchain/step/v1"
	DomainOrigin = "prepchain/origin/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StepID computes the content address of a non-origin step.
//
// The id covers the parent id and the ordered action list only. Reordering
// actions, changing a parameter, or re-parenting the same actions all yield
// a different id; CreatedAt/CreatedBy never do.
func StepID(parentID string, actions []Action) (string, error) {
	if parentID == "" {
		return "", fmt.Errorf("StepID: parent id is required")
	}
	obj := IRObject{
		"parent_id": IRString(parentID),
		"actions":   ActionsToIR(actions),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("StepID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainStep, canonical), nil
}

// OriginID computes the content address of the origin step bound to a
// dataset. Origins carry no actions, so the dataset id is what keeps two
// datasets' chains from sharing a root.
func OriginID(datasetID string) (string, error) {
	if datasetID == "" {
		return "", fmt.Errorf("OriginID: dataset id is required")
	}
	canonical, err := MarshalCanonical(IRObject{"dataset_id": IRString(datasetID)})
	if err != nil {
		return "", fmt.Errorf("OriginID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOrigin, canonical), nil
}

// MustStepID is like StepID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStepID(parentID string, actions []Action) string {
	id, err := StepID(parentID, actions)
	if err != nil {
		panic(err)
	}
	return id
}

// MustOriginID is like OriginID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustOriginID(datasetID string) string {
	id, err := OriginID(datasetID)
	if err != nil {
		panic(err)
	}
	return id
}
