// Package moderation masks censored words in outgoing chat text.
package moderation

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"log/slog"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

var _ contract.Censor = (*Moderator)(nil)

// Moderator finds censored words with an Aho-Corasick automaton. Matching
// ignores case, punctuation, spacing and common leet substitutions, so
// "b.a.d" and "B4D" both hit "bad". Safe for concurrent use once built.
type Moderator struct {
	log         *slog.Logger
	matcher     *goahocorasick.Machine
	replacement rune
}

// mapping links each rune of a normalized text to its index in the original.
type mapping struct {
	normalized []rune
	origIdx    []int
}

func NewModerator(log *slog.Logger, censoredWords []string, replacement rune) (*Moderator, error) {
	patterns := lo.FilterMap(lo.Uniq(censoredWords), func(word string, _ int) ([]rune, bool) {
		normalized := normalizeRunes([]rune(strings.TrimSpace(word)))
		return normalized, len(normalized) > 0
	})
	if len(patterns) == 0 {
		return nil, errors.ErrEmptyCensoredList
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	log.Info("Moderation enabled", "censored_words", len(patterns))
	return &Moderator{log: log, matcher: m, replacement: replacement}, nil
}

// Censor replaces every rune of a censored occurrence, spacing and
// punctuation in between included, with the replacement rune.
func (m *Moderator) Censor(original string) string {
	mp := normalize(original)
	if len(mp.normalized) == 0 {
		return original
	}

	hits := m.matcher.MultiPatternSearch(mp.normalized, false)
	if len(hits) == 0 {
		return original
	}

	runes := []rune(original)
	for _, hit := range hits {
		start, end := hit.Pos, hit.Pos+len(hit.Word)
		if start < 0 || end > len(mp.origIdx) {
			continue
		}
		for i := mp.origIdx[start]; i <= mp.origIdx[end-1]; i++ {
			runes[i] = m.replacement
		}
	}
	m.log.Debug("Message censored", "occurrences", len(hits))
	return string(runes)
}

func normalize(input string) mapping {
	runes := []rune(input)
	mp := mapping{
		normalized: make([]rune, 0, len(runes)),
		origIdx:    make([]int, 0, len(runes)),
	}
	for i, r := range runes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		mp.normalized = append(mp.normalized, unicode.ToLower(clean))
		mp.origIdx = append(mp.origIdx, i)
	}
	return mp
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps leet characters back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
