package datasets

import (
	"sort"
	"strings"
	"unicode"
)

// Reserved token ids shared by every vocabulary.
const (
	PadID int32 = 0
	UnkID int32 = 1
	EOSID int32 = 2
)

var specialTokens = []string{"<pad>", "<unk>", "<eos>"}

// Vocabulary maps words to ids and back. Words[i] is the word with id i.
type Vocabulary struct {
	Words []string
	Index map[string]int32
}

// NewVocabulary builds a vocabulary from tokenised sentences. Words are ordered by
// descending frequency, ties broken lexicographically. Words seen fewer than
// minOccurrences times are dropped; maxSize > 0 caps the total size, special
// tokens included.
func NewVocabulary(sentences [][]string, minOccurrences, maxSize int) *Vocabulary {
	counts := make(map[string]int)
	for _, s := range sentences {
		for _, w := range s {
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w, c := range counts {
		if c < minOccurrences {
			continue
		}
		if isSpecial(w) {
			continue
		}
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		ci, cj := counts[words[i]], counts[words[j]]
		if ci != cj {
			return ci > cj
		}
		return words[i] < words[j]
	})
	if maxSize > 0 {
		room := max(maxSize-len(specialTokens), 0)
		if len(words) > room {
			words = words[:room]
		}
	}

	v := &Vocabulary{
		Words: make([]string, 0, len(specialTokens)+len(words)),
		Index: make(map[string]int32, len(specialTokens)+len(words)),
	}
	for _, w := range append(append([]string{}, specialTokens...), words...) {
		v.Index[w] = int32(len(v.Words))
		v.Words = append(v.Words, w)
	}
	return v
}

func isSpecial(w string) bool {
	for _, s := range specialTokens {
		if w == s {
			return true
		}
	}
	return false
}

// Len returns the number of entries, special tokens included.
func (v *Vocabulary) Len() int { return len(v.Words) }

// Encode maps tokens to ids; unknown words map to UnkID.
func (v *Vocabulary) Encode(tokens []string) []int32 {
	out := make([]int32, len(tokens))
	for i, t := range tokens {
		id, ok := v.Index[t]
		if !ok {
			id = UnkID
		}
		out[i] = id
	}
	return out
}

// Decode maps ids back to a sentence, stopping at the first EOSID and skipping
// padding.
func (v *Vocabulary) Decode(ids []int32) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == EOSID {
			break
		}
		if id == PadID {
			continue
		}
		if int(id) < 0 || int(id) >= len(v.Words) {
			words = append(words, specialTokens[UnkID])
			continue
		}
		words = append(words, v.Words[id])
	}
	return strings.Join(words, " ")
}

// Tokenizer splits a caption into words.
type Tokenizer func(string) []string

// TokenizeNone splits on whitespace only.
func TokenizeNone(s string) []string {
	return strings.Fields(s)
}

// TokenizeBasic lower-cases the caption and separates punctuation into tokens.
func TokenizeBasic(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Fields(b.String())
}

// TokenizerByName resolves TOKENIZATION_METHOD values.
func TokenizerByName(name string) (Tokenizer, bool) {
	switch name {
	case "tokenize_none", "":
		return TokenizeNone, true
	case "tokenize_basic":
		return TokenizeBasic, true
	}
	return nil, false
}
