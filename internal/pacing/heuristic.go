package pacing

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dubforge/internal/textutil"
)

// Hesitations understood in any language.
var hesitations = []string{"um", "umm", "uh", "uhh", "er", "erm", "hmm", "mm"}

// Discourse markers that carry no content, by base language. Multi-word
// entries are matched as consecutive tokens.
var fillers = map[string][]string{
	"en": {"ah", "you know", "i mean"},
	"es": {"eh", "o sea", "pues", "bueno"},
	"fr": {"euh", "ben", "en fait", "tu sais"},
	"de": {"äh", "ähm", "halt", "naja"},
}

// Hedges and intensifiers removed only by the aggressive pass.
var intensifiers = map[string][]string{
	"en": {"very", "really", "just", "actually", "basically", "literally", "quite", "totally"},
	"es": {"muy", "realmente", "básicamente", "simplemente"},
	"fr": {"très", "vraiment", "juste"},
	"de": {"sehr", "wirklich", "eigentlich", "einfach"},
}

var negations = map[string]struct{}{
	"no": {}, "not": {}, "never": {}, "nor": {}, "none": {}, "nothing": {}, "nobody": {}, "neither": {}, "without": {},
	"nunca": {}, "jamás": {}, "ni": {}, "nada": {}, "nadie": {}, "tampoco": {}, "sin": {},
	"ne": {}, "pas": {}, "jamais": {}, "rien": {}, "personne": {}, "non": {},
	"nicht": {}, "nie": {}, "kein": {}, "keine": {}, "keinen": {}, "nein": {}, "nichts": {}, "ohne": {},
}

var parenthetical = regexp.MustCompile(`\s*[(\[][^()\[\]]*[)\]]`)

var numberPattern = regexp.MustCompile(`\p{Nd}+(?:[.,]\p{Nd}+)*`)

type folder struct {
	tag          language.Tag
	fillers      [][]string
	intensifiers [][]string
}

func newFolder(tag language.Tag) *folder {
	f := &folder{tag: tag}
	base, _ := tag.Base()
	f.fillers = f.phrases(append(append([]string{}, hesitations...), fillers[base.String()]...))
	f.intensifiers = f.phrases(intensifiers[base.String()])
	return f
}

func (f *folder) phrases(list []string) [][]string {
	out := make([][]string, 0, len(list))
	for _, p := range list {
		out = append(out, strings.Fields(f.fold(p)))
	}
	return out
}

// fold lowercases with the target language's rules. Casers are stateful, so
// each call gets its own.
func (f *folder) fold(s string) string {
	return cases.Lower(f.tag).String(s)
}

type token struct {
	raw    string
	folded string
	// initial marks the first token of a sentence.
	initial bool
}

func (f *folder) tokenize(text string) []token {
	raw := strings.Fields(text)
	out := make([]token, 0, len(raw))
	initial := true
	for _, r := range raw {
		out = append(out, token{raw: r, folded: f.fold(textutil.Core(r)), initial: initial})
		initial = endsSentence(r)
	}
	return out
}

func endsSentence(tok string) bool {
	last, _ := utf8.DecodeLastRuneInString(tok)
	return last == '.' || last == '!' || last == '?' || last == '…'
}

// protected tokens are never removed: numbers, negations and capitalized
// words that do not open a sentence.
func (f *folder) protected(t token) bool {
	if textutil.HasDigit(t.raw) {
		return true
	}
	if isNegation(t.folded) {
		return true
	}
	first, _ := utf8.DecodeRuneInString(textutil.Core(t.raw))
	return !t.initial && unicode.IsUpper(first)
}

func isNegation(folded string) bool {
	if _, ok := negations[folded]; ok {
		return true
	}
	return strings.HasSuffix(folded, "n't") || strings.HasSuffix(folded, "n’t")
}

// shorten removes fillers and immediate repetitions; the aggressive pass also
// drops intensifiers and bracketed asides without digits or negations.
func (f *folder) shorten(text string, aggressive bool) string {
	if aggressive {
		text = parenthetical.ReplaceAllStringFunc(text, func(m string) string {
			for _, tok := range f.tokenize(m) {
				if textutil.HasDigit(tok.raw) || isNegation(tok.folded) {
					return m
				}
			}
			return ""
		})
	}
	tokens := f.tokenize(text)
	keep := make([]bool, len(tokens))
	for i := range keep {
		keep[i] = true
	}

	lists := f.fillers
	if aggressive {
		lists = append(append([][]string{}, f.fillers...), f.intensifiers...)
	}
	for i := 0; i < len(tokens); i++ {
		if n := f.matchPhrase(tokens, i, lists); n > 0 {
			for j := i; j < i+n; j++ {
				keep[j] = false
			}
			i += n - 1
		}
	}
	prev := -1
	for i, t := range tokens {
		if !keep[i] || t.folded == "" {
			continue
		}
		if prev >= 0 && tokens[prev].folded == t.folded && !f.protected(t) && !endsSentence(tokens[prev].raw) {
			keep[i] = false
			continue
		}
		prev = i
	}
	return rebuild(tokens, keep)
}

func (f *folder) matchPhrase(tokens []token, at int, lists [][]string) int {
	for _, phrase := range lists {
		if len(phrase) == 0 || at+len(phrase) > len(tokens) {
			continue
		}
		match := true
		for k, word := range phrase {
			t := tokens[at+k]
			if t.folded != word || f.protected(t) {
				match = false
				break
			}
			// A phrase may not span a sentence boundary.
			if k < len(phrase)-1 && endsSentence(t.raw) {
				match = false
				break
			}
		}
		if match {
			return len(phrase)
		}
	}
	return 0
}

func rebuild(tokens []token, keep []bool) string {
	var (
		out        []string
		capitalize bool
		final      string
	)
	flush := func() {
		if n := len(out); n > 0 && final != "" && !endsSentence(out[n-1]) {
			out[n-1] = strings.TrimRight(out[n-1], ",;:") + final
		}
		final = ""
	}
	for i, t := range tokens {
		if !keep[i] {
			if t.initial {
				capitalize = true
			}
			if endsSentence(t.raw) {
				final = trailingPunct(t.raw)
			}
			continue
		}
		flush()
		word := t.raw
		if capitalize {
			word = upperFirst(word)
			capitalize = false
		}
		out = append(out, word)
	}
	flush()
	return strings.Join(out, " ")
}

func trailingPunct(tok string) string {
	core := textutil.Core(tok)
	idx := strings.LastIndex(tok, core)
	if core == "" || idx < 0 {
		return ""
	}
	return tok[idx+len(core):]
}

func upperFirst(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			if unicode.IsUpper(r) {
				return s
			}
			return s[:i] + string(unicode.ToUpper(r)) + s[i+utf8.RuneLen(r):]
		}
	}
	return s
}

// numbers returns the digit groups in text.
func numbers(text string) []string {
	return numberPattern.FindAllString(text, -1)
}
