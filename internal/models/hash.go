package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
)

// MembershipHash returns a stable SHA-256 fingerprint of a face-identifier
// set. The ids are sorted before hashing, so the hash depends only on set
// membership. Centroids store it as their staleness fingerprint; dismissed
// groups use it to survive group relabeling.
func MembershipHash(faceIDs []uuid.UUID) string {
	sorted := make([]string, len(faceIDs))
	for i, id := range faceIDs {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
