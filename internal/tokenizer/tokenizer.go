// Package tokenizer implements the byte-level BPE tokenizer of CLIP text
// encoders. Every prompt is encoded to exactly ContextLength ids:
//
//	<|startoftext|> tokens... <|endoftext|> pad pad ...
//
// Prompts longer than ContextLength-2 tokens are truncated.
package tokenizer

import (
	"html"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"
)

const (
	ContextLength = 77

	StartOfText = "<|startoftext|>"
	EndOfText   = "<|endoftext|>"

	endOfWord = "</w>"
)

var (
	pretokenizer = regexp2.MustCompile(
		`<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|[\p{L}]+|[\p{N}]|[^\s\p{L}\p{N}]+`,
		regexp2.IgnoreCase,
	)
	whitespace = regexp.MustCompile(`\s+`)
)

type pair struct{ a, b string }

// Tokenizer is safe for concurrent use.
type Tokenizer struct {
	vocab   map[string]int32
	ranks   map[pair]int
	special map[string]int32

	bos, eos, pad int32
	length        int
}

// ContextLength is the fixed number of ids Encode returns.
func (t *Tokenizer) ContextLength() int { return t.length }

func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// Encode tokenizes text. Empty text yields start, end and padding only.
func (t *Tokenizer) Encode(text string) []int32 {
	ids := make([]int32, 0, t.length)
	ids = append(ids, t.bos)

	budget := t.length - 2
	for _, piece := range t.tokens(clean(text)) {
		if len(ids)-1 >= budget {
			break
		}
		ids = append(ids, piece)
	}

	ids = append(ids, t.eos)
	for len(ids) < t.length {
		ids = append(ids, t.pad)
	}
	return ids
}

func (t *Tokenizer) tokens(text string) []int32 {
	var ids []int32
	m, _ := pretokenizer.FindStringMatch(text)
	for m != nil {
		word := m.String()
		if id, ok := t.special[word]; ok {
			ids = append(ids, id)
		} else {
			for _, tok := range t.bpe(byteEncode(word)) {
				if id, ok := t.vocab[tok]; ok {
					ids = append(ids, id)
				}
			}
		}
		m, _ = pretokenizer.FindNextMatch(m)
	}
	return ids
}

// bpe splits a byte-encoded word into vocabulary entries by repeatedly
// merging the adjacent pair with the lowest merge rank.
func (t *Tokenizer) bpe(token string) []string {
	runes := []rune(token)
	if len(runes) == 0 {
		return nil
	}

	word := make([]string, len(runes))
	for i, r := range runes {
		word[i] = string(r)
	}
	word[len(word)-1] += endOfWord

	for len(word) > 1 {
		best, bestRank := pair{}, -1
		for i := 0; i < len(word)-1; i++ {
			p := pair{word[i], word[i+1]}
			if rank, ok := t.ranks[p]; ok && (bestRank < 0 || rank < bestRank) {
				best, bestRank = p, rank
			}
		}
		if bestRank < 0 {
			break
		}

		merged := make([]string, 0, len(word))
		for i := 0; i < len(word); i++ {
			if i < len(word)-1 && word[i] == best.a && word[i+1] == best.b {
				merged = append(merged, best.a+best.b)
				i++
				continue
			}
			merged = append(merged, word[i])
		}
		word = merged
	}
	return word
}

// clean normalizes text the way CLIP was trained: HTML entities resolved,
// NFC normalized, whitespace collapsed and lower-cased.
func clean(text string) string {
	text = html.UnescapeString(html.UnescapeString(text))
	text = norm.NFC.String(text)
	text = whitespace.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}
