package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Item is one unit of work submitted to the generation service.
// The ID must be unique within an input set and stable across runs; the
// payload is opaque to the batch runner.
type Item struct {
	ID      string          `json:"id" yaml:"id"`
	Payload json.RawMessage `json:"payload,omitempty" yaml:"-"`
}

// Validate checks that the item can be scheduled.
func (i Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrEmptyItemID
	}
	return nil
}

// ValidateItems checks that an input set is non-empty and that every id is
// present and unique. Duplicate ids are reported in input order.
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return &InvalidInputError{Reason: "input set is empty"}
	}

	seen := make(map[string]struct{}, len(items))
	var duplicates []string
	for idx, item := range items {
		if err := item.Validate(); err != nil {
			return &InvalidInputError{Reason: fmt.Sprintf("item at position %d has no id", idx)}
		}
		if _, ok := seen[item.ID]; ok {
			duplicates = append(duplicates, item.ID)
			continue
		}
		seen[item.ID] = struct{}{}
	}

	if len(duplicates) > 0 {
		return &InvalidInputError{Reason: "duplicate item ids", DuplicateIDs: duplicates}
	}
	return nil
}

// ItemIDs returns the set of ids in an input set.
func ItemIDs(items []Item) map[string]struct{} {
	ids := make(map[string]struct{}, len(items))
	for _, item := range items {
		ids[item.ID] = struct{}{}
	}
	return ids
}

// InputFingerprint identifies an input set by its ids only. It is independent
// of item order, so the same ids supplied in a different order resume the
// same run.
func InputFingerprint(items []Item) string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
