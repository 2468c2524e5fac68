package tokenizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// specialToken accepts both "<|endoftext|>" and {"content": "<|endoftext|>"}.
type specialToken string

func (s *specialToken) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = specialToken(str)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*s = specialToken(obj.Content)
	return nil
}

type tokenizerConfig struct {
	ModelMaxLength float64      `json:"model_max_length"`
	BOSToken       specialToken `json:"bos_token"`
	EOSToken       specialToken `json:"eos_token"`
	PadToken       specialToken `json:"pad_token"`
}

// Load reads a CLIP tokenizer from dir: vocab.json and merges.txt, plus the
// optional tokenizer_config.json and special_tokens_map.json.
func Load(dir string) (*Tokenizer, error) {
	b, err := os.ReadFile(filepath.Join(dir, "vocab.json"))
	if err != nil {
		return nil, err
	}
	var vocab map[string]int32
	if err := json.Unmarshal(b, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocab.json: %w", err)
	}

	ranks, err := loadMerges(filepath.Join(dir, "merges.txt"))
	if err != nil {
		return nil, err
	}

	cfg := tokenizerConfig{
		ModelMaxLength: ContextLength,
		BOSToken:       StartOfText,
		EOSToken:       EndOfText,
		PadToken:       EndOfText,
	}
	for _, name := range []string{"tokenizer_config.json", "special_tokens_map.json"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}

	return newTokenizer(vocab, ranks, cfg)
}

func loadMerges(path string) (map[pair]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ranks := make(map[pair]int)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#version") || strings.TrimSpace(line) == "" {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed merge %q", line)
		}
		p := pair{a, b}
		if _, dup := ranks[p]; !dup {
			ranks[p] = len(ranks)
		}
	}
	return ranks, scanner.Err()
}

func newTokenizer(vocab map[string]int32, ranks map[pair]int, cfg tokenizerConfig) (*Tokenizer, error) {
	lookup := func(tok specialToken) (int32, error) {
		id, ok := vocab[string(tok)]
		if !ok {
			return 0, fmt.Errorf("special token %q missing from vocabulary", tok)
		}
		return id, nil
	}

	bos, err := lookup(cfg.BOSToken)
	if err != nil {
		return nil, err
	}
	eos, err := lookup(cfg.EOSToken)
	if err != nil {
		return nil, err
	}
	pad, err := lookup(cfg.PadToken)
	if err != nil {
		return nil, err
	}

	// HF writes a sentinel around 1e30 when there is no limit.
	length := ContextLength
	if cfg.ModelMaxLength >= 2 && cfg.ModelMaxLength <= 4096 {
		length = int(cfg.ModelMaxLength)
	}

	return &Tokenizer{
		vocab:   vocab,
		ranks:   ranks,
		special: map[string]int32{StartOfText: bos, EndOfText: eos},
		bos:     bos,
		eos:     eos,
		pad:     pad,
		length:  length,
	}, nil
}

// NewByteLevel builds a tokenizer with no merges: every byte of a word is
// its own token. The id layout matches CLIP's first 512 entries followed by
// the two special tokens.
func NewByteLevel() *Tokenizer {
	vocab := make(map[string]int32, 514)
	for i, b := range byteOrder {
		vocab[string(byteRunes[b])] = int32(i)
		vocab[string(byteRunes[b])+endOfWord] = int32(i + 256)
	}
	vocab[StartOfText] = 512
	vocab[EndOfText] = 513

	t, err := newTokenizer(vocab, map[pair]int{}, tokenizerConfig{
		ModelMaxLength: ContextLength,
		BOSToken:       StartOfText,
		EOSToken:       EndOfText,
		PadToken:       EndOfText,
	})
	if err != nil {
		panic(err)
	}
	return t
}
