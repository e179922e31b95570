package extractor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

// minFormLength drops one-letter surface forms, which would match everywhere.
const minFormLength = 2

// Mention is an entity surface form found in the input.
type Mention struct {
	// Text is the literal substring of the input.
	Text  string
	Form  string
	Kinds []types.EntityKind
	Start int
	End   int
}

// Vocabulary is the set of entity surface forms of one domain. It is
// immutable after construction.
type Vocabulary struct {
	forms []string // longest first
	kinds map[string][]types.EntityKind
}

// NewVocabulary builds a vocabulary from surface forms. A form shared by a
// team and a player keeps both kinds.
func NewVocabulary(forms []storage.SurfaceForm) *Vocabulary {
	v := &Vocabulary{kinds: make(map[string][]types.EntityKind)}
	for _, f := range forms {
		text := types.NormalizeText(f.Text)
		if utf8.RuneCountInString(text) < minFormLength {
			continue
		}
		existing, seen := v.kinds[text]
		if !seen {
			v.forms = append(v.forms, text)
		}
		if !containsKind(existing, f.Kind) {
			v.kinds[text] = append(existing, f.Kind)
		}
	}
	for _, ks := range v.kinds {
		sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	}
	sortLongestFirst(v.forms)
	return v
}

// LoadVocabulary reads domain's surface forms from the entity store.
func LoadVocabulary(ctx context.Context, reader storage.EntityReader, domain string) (*Vocabulary, error) {
	forms, err := reader.SurfaceForms(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("extractor: load vocabulary for %s: %w", domain, err)
	}
	return NewVocabulary(forms), nil
}

// Len returns the number of distinct surface forms.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.forms)
}

// Scan returns the mentions in text, in text order. Matches respect word
// boundaries, prefer the longest form, and never overlap.
func (v *Vocabulary) Scan(text string) []Mention {
	if v == nil || len(v.forms) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	aligned := len(lower) == len(text)

	spans := scanPhrases(lower, v.forms)
	out := make([]Mention, 0, len(spans))
	for _, s := range spans {
		literal := s.phrase
		if aligned {
			literal = text[s.start:s.end]
		}
		out = append(out, Mention{
			Text:  literal,
			Form:  s.phrase,
			Kinds: append([]types.EntityKind(nil), v.kinds[s.phrase]...),
			Start: s.start,
			End:   s.end,
		})
	}
	return out
}

// MatchPhrases returns the phrases that occur in text as whole words, one
// entry per non-overlapping occurrence, in text order. Matching ignores case.
func MatchPhrases(text string, phrases []string) []string {
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = types.NormalizeText(p); p != "" {
			norm = append(norm, p)
		}
	}
	sortLongestFirst(norm)

	spans := scanPhrases(strings.ToLower(text), norm)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.phrase)
	}
	return out
}

type span struct {
	start, end int
	phrase     string
}

// scanPhrases finds whole-word occurrences of phrases (already sorted
// longest first) in lower. Earlier phrases claim their bytes first.
func scanPhrases(lower string, phrases []string) []span {
	covered := make([]bool, len(lower))
	var spans []span
	for _, p := range phrases {
		from := 0
		for from < len(lower) {
			i := strings.Index(lower[from:], p)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(p)
			from = start + 1
			if !isBoundary(lower, start, end) || overlaps(covered, start, end) {
				continue
			}
			for k := start; k < end; k++ {
				covered[k] = true
			}
			spans = append(spans, span{start: start, end: end, phrase: p})
			from = end
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func isBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func overlaps(covered []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if covered[k] {
			return true
		}
	}
	return false
}

func sortLongestFirst(s []string) {
	sort.Slice(s, func(i, j int) bool {
		if len(s[i]) != len(s[j]) {
			return len(s[i]) > len(s[j])
		}
		return s[i] < s[j]
	})
}

func containsKind(ks []types.EntityKind, k types.EntityKind) bool {
	for _, v := range ks {
		if v == k {
			return true
		}
	}
	return false
}
