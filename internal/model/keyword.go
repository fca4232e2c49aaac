package model

import "strings"

// KeywordSet is an ordered set of keywords with case-insensitive uniqueness.
// Original casing of the first occurrence is preserved.
type KeywordSet []string

// Has reports whether the set contains the keyword, ignoring case.
func (s KeywordSet) Has(word string) bool {
	for _, w := range s {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

// Add appends the keyword if it is non-empty and not already present.
// It returns the updated set and whether anything changed.
func (s KeywordSet) Add(word string) (KeywordSet, bool) {
	word = strings.TrimSpace(word)
	if word == "" || s.Has(word) {
		return s, false
	}
	return append(s, word), true
}

// Remove deletes the keyword, matching case-insensitively. It returns the
// updated set and whether anything changed.
func (s KeywordSet) Remove(word string) (KeywordSet, bool) {
	for i, w := range s {
		if strings.EqualFold(w, word) {
			return append(s[:i:i], s[i+1:]...), true
		}
	}
	return s, false
}
