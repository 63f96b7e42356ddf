// Package selection turns a spoken reply to a list of alternatives into a
// Decision. It is pure: no I/O, no clock, no state.
package selection

import (
	"strconv"
	"strings"
	"unicode"
)

// MaxOption is the highest option number the parser will accept.
const MaxOption = 5

type Kind int

const (
	Unrecognized Kind = iota
	SelectOption
	RequestMore
	Cancel
)

func (k Kind) String() string {
	switch k {
	case SelectOption:
		return "select_option"
	case RequestMore:
		return "request_more"
	case Cancel:
		return "cancel"
	default:
		return "unrecognized"
	}
}

// Decision is the classified utterance. Option is set only for SelectOption.
type Decision struct {
	Kind   Kind
	Option int
}

var (
	selectorWords = []string{"option", "choice", "number", "pick", "select"}

	ordinals = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
	}

	cardinals = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	}

	cancelPhrases = [][]string{
		{"cancel"},
		{"never", "mind"},
		{"nevermind"},
	}

	morePhrases = [][]string{
		{"different", "times"},
		{"different", "options"},
		{"other", "options"},
		{"other", "times"},
		{"none", "of", "these"},
		{"something", "else"},
		{"more", "options"},
		{"another", "time"},
	}
)

// Parse classifies an utterance. Explicit "option N" forms win over bare
// ordinals, which win over bare numbers, which win over cancel and
// more-options phrases.
func Parse(utterance string) Decision {
	tokens := tokenize(utterance)
	if len(tokens) == 0 {
		return Decision{Kind: Unrecognized}
	}

	for i, tok := range tokens {
		if !isSelector(tok) || i+1 >= len(tokens) {
			continue
		}
		n, ok := number(tokens[i+1])
		if !ok {
			continue
		}
		if n < 1 || n > MaxOption {
			return Decision{Kind: Unrecognized}
		}
		return Decision{Kind: SelectOption, Option: n}
	}

	for _, tok := range tokens {
		if n, ok := ordinals[tok]; ok {
			return Decision{Kind: SelectOption, Option: n}
		}
	}

	for _, tok := range tokens {
		if n, ok := cardinal(tok); ok {
			return Decision{Kind: SelectOption, Option: n}
		}
	}

	for _, p := range cancelPhrases {
		if containsPhrase(tokens, p) {
			return Decision{Kind: Cancel}
		}
	}
	for _, p := range morePhrases {
		if containsPhrase(tokens, p) {
			return Decision{Kind: RequestMore}
		}
	}
	return Decision{Kind: Unrecognized}
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isSelector(tok string) bool {
	for _, w := range selectorWords {
		if tok == w {
			return true
		}
	}
	return false
}

// number accepts anything that can follow a selector word, including
// out-of-range numerals so that "option 7" is rejected rather than skipped.
func number(tok string) (int, bool) {
	if n, ok := ordinals[tok]; ok {
		return n, true
	}
	if n, ok := cardinals[tok]; ok {
		return n, true
	}
	if n, err := strconv.Atoi(tok); err == nil {
		return n, true
	}
	return 0, false
}

func cardinal(tok string) (int, bool) {
	if n, ok := cardinals[tok]; ok {
		return n, true
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 1 || n > MaxOption {
		return 0, false
	}
	return n, true
}

func containsPhrase(tokens, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, w := range phrase {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
