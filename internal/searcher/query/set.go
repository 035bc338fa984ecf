package query

import (
	"slices"
	"strings"
)

// stringSet is a set of byte strings kept sorted: by value for exact and
// prefix sets, by reversed value for suffix sets.
type stringSet []string

func (s stringSet) have(str string) bool {
	for _, x := range s {
		if x == str {
			return true
		}
	}
	return false
}

func (s stringSet) nonEmpty() bool {
	return len(s) > 0
}

// minLen returns the length of the shortest string, or 0 for an empty set.
func (s stringSet) minLen() int {
	if len(s) == 0 {
		return 0
	}
	n := len(s[0])
	for _, str := range s[1:] {
		n = min(n, len(str))
	}
	return n
}

func (s stringSet) copy() stringSet {
	return slices.Clone(s)
}

// clean sorts s and removes duplicates in place.
func (s *stringSet) clean(isSuffix bool) {
	t := *s
	if isSuffix {
		slices.SortFunc(t, compareSuffix)
	} else {
		slices.Sort(t)
	}
	*s = slices.Compact(t)
}

// union returns a new set holding s and t.
func (s stringSet) union(t stringSet, isSuffix bool) stringSet {
	out := make(stringSet, 0, len(s)+len(t))
	out = append(out, s...)
	out = append(out, t...)
	out.clean(isSuffix)
	return out
}

// cross returns every concatenation of a string from s with one from t.
func (s stringSet) cross(t stringSet, isSuffix bool) stringSet {
	out := make(stringSet, 0, len(s)*len(t))
	for _, a := range s {
		for _, b := range t {
			out = append(out, a+b)
		}
	}
	out.clean(isSuffix)
	return out
}

// isSubsetOf reports whether every element of s is in t. Both must be sorted
// by value.
func (s stringSet) isSubsetOf(t stringSet) bool {
	j := 0
	for _, str := range s {
		for j < len(t) && t[j] < str {
			j++
		}
		if j >= len(t) || t[j] != str {
			return false
		}
	}
	return true
}

func compareSuffix(a, b string) int {
	i, j := len(a)-1, len(b)-1
	for i >= 0 && j >= 0 {
		if a[i] != b[j] {
			return int(a[i]) - int(b[j])
		}
		i--
		j--
	}
	return len(a) - len(b)
}

// hasAffix reports whether str starts (or, for suffix sets, ends) with affix.
func hasAffix(str, affix string, isSuffix bool) bool {
	if isSuffix {
		return strings.HasSuffix(str, affix)
	}
	return strings.HasPrefix(str, affix)
}
