package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// InvitationID builds the deterministic composite id for a (recipient, group)
// pair. The store never holds more than one invitation per pair because every
// writer computes the same id.
func InvitationID(recipientID, groupID string) string {
	return recipientID + "_" + groupID
}
