// Package composition derives the key that identifies a cart line item.
package composition

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
)

// Key returns a stable identifier for a catalog variant combined with a set of
// add-on ingredients. The add-on list is treated as a set: ordering and
// duplicates do not affect the result. Any difference in the variant or in the
// set yields a different key.
//
// Base-ingredient removals are not part of the key.
func Key(variantID string, addOnIDs []string) string {
	return hash(canonical(variantID, addOnIDs))
}

// canonical encodes every identifier with a length prefix so that no two
// distinct (variant, set) pairs share an encoding, whatever characters the
// identifiers contain.
func canonical(variantID string, addOnIDs []string) string {
	ids := AddOnSet(addOnIDs)

	var b strings.Builder
	writeField(&b, variantID)
	b.WriteString(strconv.Itoa(len(ids)))
	b.WriteByte('#')
	for _, id := range ids {
		writeField(&b, id)
	}
	return b.String()
}

// AddOnSet returns the sorted, duplicate-free copy of addOnIDs that Key
// hashes. Prices are derived from the same set so that equal keys always
// carry equal prices.
func AddOnSet(addOnIDs []string) []string {
	ids := slices.Clone(addOnIDs)
	slices.Sort(ids)
	return slices.Compact(ids)
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
