// Package massaction holds the domain model shared by the bridge server,
// the batch engine and the consoles: item selections, action descriptors,
// processing results and the error taxonomy.
package massaction

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Selection maps an item type to the IDs of the selected items.
type Selection map[string][]int

// Normalize returns a copy with non-positive IDs removed, duplicates
// collapsed and IDs sorted. Item types left without IDs are dropped.
func (s Selection) Normalize() Selection {
	out := make(Selection, len(s))
	for itemType, ids := range s {
		if itemType == "" {
			continue
		}
		clean := UniqueIDs(ids)
		if len(clean) == 0 {
			continue
		}
		sort.Ints(clean)
		out[itemType] = clean
	}
	return out
}

// Empty reports whether the selection holds no valid ID.
func (s Selection) Empty() bool {
	return s.Count() == 0
}

// Count returns the number of distinct positive IDs across all item types.
func (s Selection) Count() int {
	n := 0
	for _, ids := range s.Normalize() {
		n += len(ids)
	}
	return n
}

// ItemTypes returns the selection's item types in sorted order.
func (s Selection) ItemTypes() []string {
	types := make([]string, 0, len(s))
	for t := range s {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// UniqueIDs drops non-positive IDs and duplicates, keeping first-seen order.
func UniqueIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ParseIDs extracts item IDs from free text. Tokens are separated by
// whitespace, commas or semicolons; each token contributes its leading
// decimal digits, so "12a" reads as 12. Tokens that do not start with a
// positive integer are ignored and duplicates keep their first position.
func ParseIDs(text string) []int {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		end := 0
		if f[0] == '+' || f[0] == '-' {
			end = 1
		}
		for end < len(f) && f[end] >= '0' && f[end] <= '9' {
			end++
		}
		n, err := strconv.Atoi(f[:end])
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	return UniqueIDs(ids)
}

// FormatIDs renders IDs as a comma separated list.
func FormatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
