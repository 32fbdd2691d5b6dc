// Package similarity ranks option labels against candidate answers.
//
// The score is a deterministic composite in [0, 100]:
//
//	0.5*levScore + 0.4*tokenScore + 10*lengthRatio
//
// computed over canonicalized strings. The token score absorbs word
// reordering and the length ratio keeps short prefixes ("C") from matching
// long labels ("C++ Developer").
package similarity

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	levWeight   = 0.5
	tokenWeight = 0.4
	ratioWeight = 10.0
)

// separators are folded into a single space before non-alphanumerics are dropped.
const separators = "-_/\\|.,;:+&"

// Canonicalize applies NFKD, strips combining marks, lowercases, unifies
// separators, drops non-alphanumerics and collapses whitespace.
func Canonicalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range strings.ToLower(decomposed) {
		switch {
		case strings.ContainsRune(separators, r), unicode.IsSpace(r), unicode.Is(unicode.Pd, r):
			b.WriteRune(' ')
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Score returns the composite similarity of a and b. Strings that
// canonicalize to empty score 0.
func Score(a, b string) float64 {
	ca, cb := Canonicalize(a), Canonicalize(b)
	score, _ := scoreCanonical(ca, cb)
	return score
}

func scoreCanonical(ca, cb string) (float64, int) {
	la, lb := len([]rune(ca)), len([]rune(cb))
	if la == 0 || lb == 0 {
		return 0, max(la, lb)
	}

	dist := levenshtein.ComputeDistance(ca, cb)
	maxLen := max(la, lb)
	levScore := 100 * float64(maxLen-dist) / float64(maxLen)
	ratio := float64(min(la, lb)) / float64(maxLen)

	return levWeight*levScore + tokenWeight*tokenScore(ca, cb) + ratioWeight*ratio, dist
}

// tokenScore is the Jaccard overlap of the two token sets, scaled to 100.
func tokenScore(ca, cb string) float64 {
	setA := tokenSet(ca)
	setB := tokenSet(cb)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return 100 * float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Match is one scored (option, candidate) pair.
type Match struct {
	Option    int
	Candidate int
	Score     float64
	Distance  int
}

// Rank scores every (option, candidate) pair and orders the result by score
// descending, then edit distance ascending, then option order, then the
// candidate text lexicographically.
func Rank(options, candidates []string) []Match {
	canonOpts := canonicalizeAll(options)
	canonCands := canonicalizeAll(candidates)

	matches := make([]Match, 0, len(options)*len(candidates))
	for i, o := range canonOpts {
		for j, c := range canonCands {
			score, dist := scoreCanonical(o, c)
			matches = append(matches, Match{Option: i, Candidate: j, Score: score, Distance: dist})
		}
	}
	sort.SliceStable(matches, func(x, y int) bool {
		return less(matches[x], matches[y], canonCands)
	})
	return matches
}

// Best returns the top-ranked pair whose score reaches threshold.
func Best(options, candidates []string, threshold float64) (Match, bool) {
	ranked := Rank(options, candidates)
	if len(ranked) == 0 || ranked[0].Score < threshold {
		return Match{}, false
	}
	return ranked[0], true
}

// BestPerOption returns, for every option in order, its best-scoring
// candidate. Options get a zero Match when candidates is empty.
func BestPerOption(options, candidates []string) []Match {
	canonCands := canonicalizeAll(candidates)
	out := make([]Match, len(options))
	for i, opt := range options {
		co := Canonicalize(opt)
		best := Match{Option: i, Candidate: -1}
		for j, c := range canonCands {
			score, dist := scoreCanonical(co, c)
			m := Match{Option: i, Candidate: j, Score: score, Distance: dist}
			if best.Candidate < 0 || less(m, best, canonCands) {
				best = m
			}
		}
		out[i] = best
	}
	return out
}

func less(a, b Match, canonCands []string) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Option != b.Option {
		return a.Option < b.Option
	}
	return canonCands[a.Candidate] < canonCands[b.Candidate]
}

func canonicalizeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Canonicalize(s)
	}
	return out
}
