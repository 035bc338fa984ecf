package query

import (
	"fmt"
	"regexp/syntax"
	"slices"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

const (
	// maxExact bounds the exact set before it is turned into trigrams.
	maxExact = 7
	// maxSet bounds prefix and suffix sets.
	maxSet = 20
	// maxClass is the largest character class expanded into an exact set.
	maxClass = 100
)

// Plan parses pattern with Perl syntax and returns a trigram query that
// every matching file satisfies. With caseInsensitive the pattern is folded
// as if prefixed by (?i).
func Plan(pattern string, caseInsensitive bool) (*Query, error) {
	re, err := Parse(pattern, caseInsensitive)
	if err != nil {
		return nil, err
	}
	return FromRegexp(re), nil
}

// Parse parses and simplifies pattern the way Plan does.
func Parse(pattern string, caseInsensitive bool) (*syntax.Regexp, error) {
	flags := syntax.Perl
	if caseInsensitive {
		flags |= syntax.FoldCase
	}
	re, err := syntax.Parse(pattern, flags)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidPattern, apperrors.ExitUsage, "%q: %v", pattern, err)
	}
	return re.Simplify(), nil
}

// FromRegexp computes the trigram query for a parsed expression.
func FromRegexp(re *syntax.Regexp) *Query {
	info := analyze(re)
	info.simplify(true)
	info.addExact()
	return info.match
}

// regexpInfo summarises what is known about the strings a subexpression
// matches.
type regexpInfo struct {
	// canEmpty reports whether the empty string matches.
	canEmpty bool
	// exact, when non-empty, is the complete set of matched strings.
	exact stringSet
	// prefix and suffix are used when exact is empty: every match starts
	// with some element of prefix and ends with some element of suffix.
	prefix stringSet
	suffix stringSet
	// match must hold for any file containing a match.
	match *Query
}

func (info regexpInfo) String() string {
	return fmt.Sprintf("canEmpty=%v exact=%q prefix=%q suffix=%q match=%v",
		info.canEmpty, info.exact, info.prefix, info.suffix, info.match)
}

func anyMatch() regexpInfo {
	return regexpInfo{
		canEmpty: true,
		prefix:   stringSet{""},
		suffix:   stringSet{""},
		match:    &Query{Op: All},
	}
}

func anyChar() regexpInfo {
	return regexpInfo{
		prefix: stringSet{""},
		suffix: stringSet{""},
		match:  &Query{Op: All},
	}
}

func noMatch() regexpInfo {
	return regexpInfo{match: &Query{Op: None}}
}

func emptyString() regexpInfo {
	return regexpInfo{
		canEmpty: true,
		exact:    stringSet{""},
		match:    &Query{Op: All},
	}
}

func analyze(re *syntax.Regexp) regexpInfo {
	var info regexpInfo
	switch re.Op {
	case syntax.OpNoMatch:
		return noMatch()

	case syntax.OpEmptyMatch,
		syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return emptyString()

	case syntax.OpLiteral:
		// U+FFFD matches any invalid UTF-8 byte, so its encoding proves nothing.
		if slices.Contains(re.Rune, utf8.RuneError) {
			return anyChar()
		}
		if re.Flags&syntax.FoldCase != 0 {
			return foldedLiteral(re.Rune)
		}
		info.exact = stringSet{string(re.Rune)}
		info.match = &Query{Op: All}

	case syntax.OpAnyCharNotNL, syntax.OpAnyChar:
		return anyChar()

	case syntax.OpCapture:
		return analyze(re.Sub[0])

	case syntax.OpConcat:
		return fold(concat, re.Sub, emptyString())

	case syntax.OpAlternate:
		return fold(alternate, re.Sub, noMatch())

	case syntax.OpQuest:
		return alternate(analyze(re.Sub[0]), emptyString())

	case syntax.OpStar:
		return anyMatch()

	case syntax.OpRepeat:
		if re.Min == 0 {
			return anyMatch()
		}
		info = plus(analyze(re.Sub[0]))

	case syntax.OpPlus:
		info = plus(analyze(re.Sub[0]))

	case syntax.OpCharClass:
		if len(re.Rune) == 0 {
			return noMatch()
		}
		n := 0
		for i := 0; i < len(re.Rune); i += 2 {
			n += int(re.Rune[i+1]-re.Rune[i]) + 1
		}
		if n > maxClass || classHas(re.Rune, utf8.RuneError) {
			return anyChar()
		}
		info.match = &Query{Op: All}
		for i := 0; i < len(re.Rune); i += 2 {
			for r := re.Rune[i]; r <= re.Rune[i+1]; r++ {
				info.exact = append(info.exact, string(r))
			}
		}

	default:
		return anyMatch()
	}

	info.simplify(false)
	return info
}

func classHas(ranges []rune, r rune) bool {
	for i := 0; i < len(ranges); i += 2 {
		if ranges[i] <= r && r <= ranges[i+1] {
			return true
		}
	}
	return false
}

// plus handles x+ and x{m,n} with m >= 1. At least one x is present so the
// prefixes and suffixes carry over, but an exact set no longer is one.
func plus(info regexpInfo) regexpInfo {
	if info.exact.nonEmpty() {
		info.prefix = info.exact
		info.suffix = info.exact.copy()
		info.suffix.clean(true)
		info.exact = nil
	}
	return info
}

// foldedLiteral expands a case-insensitive literal one rune at a time into
// the concatenation of its case-fold classes.
func foldedLiteral(runes []rune) regexpInfo {
	info := emptyString()
	for _, r0 := range runes {
		class := &syntax.Regexp{Op: syntax.OpCharClass}
		class.Rune = append(class.Rune, r0, r0)
		for r1 := unicode.SimpleFold(r0); r1 != r0; r1 = unicode.SimpleFold(r1) {
			class.Rune = append(class.Rune, r1, r1)
		}
		info = concat(info, analyze(class))
	}
	return info
}

func fold(f func(x, y regexpInfo) regexpInfo, sub []*syntax.Regexp, zero regexpInfo) regexpInfo {
	if len(sub) == 0 {
		return zero
	}
	info := analyze(sub[0])
	for _, re := range sub[1:] {
		info = f(info, analyze(re))
	}
	return info
}

func concat(x, y regexpInfo) regexpInfo {
	var xy regexpInfo
	xy.match = x.match.and(y.match)
	if x.exact.nonEmpty() && y.exact.nonEmpty() {
		xy.exact = x.exact.cross(y.exact, false)
	} else {
		if x.exact.nonEmpty() {
			xy.prefix = x.exact.cross(y.prefix, false)
		} else {
			xy.prefix = x.prefix.copy()
			if x.canEmpty {
				xy.prefix = xy.prefix.union(y.prefix, false)
			}
		}
		if y.exact.nonEmpty() {
			xy.suffix = x.suffix.cross(y.exact, true)
		} else {
			xy.suffix = y.suffix.copy()
			if y.canEmpty {
				xy.suffix = xy.suffix.union(x.suffix, true)
			}
		}
	}

	// Strings spanning the boundary start with some x suffix followed by
	// some y prefix. When all such pairs are long enough, one of their
	// trigrams must be present.
	if !x.exact.nonEmpty() && !y.exact.nonEmpty() &&
		len(x.suffix) <= maxSet && len(y.prefix) <= maxSet &&
		x.suffix.minLen()+y.prefix.minLen() >= 3 {
		xy.match = xy.match.andTrigrams(x.suffix.cross(y.prefix, false))
	}

	xy.canEmpty = x.canEmpty && y.canEmpty
	xy.simplify(false)
	return xy
}

func alternate(x, y regexpInfo) regexpInfo {
	var xy regexpInfo
	switch {
	case x.exact.nonEmpty() && y.exact.nonEmpty():
		xy.exact = x.exact.union(y.exact, false)
	case x.exact.nonEmpty():
		xy.prefix = x.exact.union(y.prefix, false)
		xy.suffix = x.exact.union(y.suffix, true)
		x.addExact()
	case y.exact.nonEmpty():
		xy.prefix = x.prefix.union(y.exact, false)
		xy.suffix = x.suffix.union(y.exact, true)
		y.addExact()
	default:
		xy.prefix = x.prefix.union(y.prefix, false)
		xy.suffix = x.suffix.union(y.suffix, true)
	}
	xy.canEmpty = x.canEmpty || y.canEmpty
	xy.match = x.match.or(y.match)
	xy.simplify(false)
	return xy
}

// addExact folds the exact set into match.
func (info *regexpInfo) addExact() {
	if info.exact.nonEmpty() {
		info.match = info.match.andTrigrams(info.exact)
	}
}

// simplify turns an exact set that grew too large, or whose strings are
// long enough to contribute trigrams, into match plus prefix and suffix.
// force lowers the length threshold to three, for the top level.
func (info *regexpInfo) simplify(force bool) {
	info.exact.clean(false)
	n := info.exact.minLen()
	if len(info.exact) > maxExact || (force && n >= 3) || n >= 4 {
		info.addExact()
		for _, s := range info.exact {
			if len(s) < 3 {
				info.prefix = append(info.prefix, s)
				info.suffix = append(info.suffix, s)
			} else {
				info.prefix = append(info.prefix, s[:2])
				info.suffix = append(info.suffix, s[len(s)-2:])
			}
		}
		info.exact = nil
	}
	if !info.exact.nonEmpty() {
		info.simplifySet(&info.prefix, false)
		info.simplifySet(&info.suffix, true)
	}
}

// simplifySet adds the trigrams of s to match, then shortens s to at most
// two bytes per string and further until it has no more than maxSet
// elements. Strings made redundant by a shorter affix are dropped.
func (info *regexpInfo) simplifySet(s *stringSet, isSuffix bool) {
	t := *s
	t.clean(isSuffix)
	info.match = info.match.andTrigrams(t)

	for n := 3; n == 3 || len(t) > maxSet; n-- {
		w := 0
		for _, str := range t {
			if len(str) >= n {
				if isSuffix {
					str = str[len(str)-n+1:]
				} else {
					str = str[:n-1]
				}
			}
			t[w] = str
			w++
		}
		t = t[:w]
		t.clean(isSuffix)
	}

	w := 0
	for _, str := range t {
		if w == 0 || !hasAffix(str, t[w-1], isSuffix) {
			t[w] = str
			w++
		}
	}
	*s = t[:w]
}
