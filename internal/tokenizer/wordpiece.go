package tokenizer

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

const (
	defaultMaxLength       = 512
	defaultMaxCharsPerWord = 100
	defaultSubwordPrefix   = "##"
)

// WordPiece is a BERT-style tokenizer: basic tokenization followed by greedy
// longest-match-first subword splitting. It is safe for concurrent use.
type WordPiece struct {
	encoder         map[string]int
	decoder         []string
	prefix          string
	maxCharsPerWord int
	lower           bool
	stripAccents    bool
	maxLength       int
	clsID           int
	sepID           int
	padID           int
	unkID           int
	unkToken        string
	special         []string
}

type hfWordPieceJSON struct {
	Normalizer struct {
		Type         string `json:"type"`
		Lowercase    *bool  `json:"lowercase"`
		StripAccents *bool  `json:"strip_accents"`
	} `json:"normalizer"`
	Model struct {
		Type                    string         `json:"type"`
		Vocab                   map[string]int `json:"vocab"`
		UnkToken                string         `json:"unk_token"`
		ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
		MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
	} `json:"model"`
	Truncation *struct {
		MaxLength int `json:"max_length"`
	} `json:"truncation"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoadWordPiece reads a tokenizer.json and an optional tokenizer_config.json.
func LoadWordPiece(tokJSON, tokConfig string) (*WordPiece, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	return LoadWordPieceBytes(data, readOptional(tokConfig))
}

// LoadWordPieceBytes builds a tokenizer from tokenizer.json contents.
func LoadWordPieceBytes(tokJSON, tokConfig []byte) (*WordPiece, error) {
	var tj hfWordPieceJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if !strings.EqualFold(tj.Model.Type, "WordPiece") {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json has an empty vocab")
	}

	vocab := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	for tok, id := range tj.Model.Vocab {
		vocab[tok] = id
	}
	var specials []string
	for _, at := range tj.AddedTokens {
		vocab[at.Content] = at.ID
		if at.Special {
			specials = append(specials, at.Content)
		}
	}

	lower := true
	if tj.Normalizer.Lowercase != nil {
		lower = *tj.Normalizer.Lowercase
	}
	strip := lower
	if tj.Normalizer.StripAccents != nil {
		strip = *tj.Normalizer.StripAccents
	}
	maxLen := defaultMaxLength
	if tj.Truncation != nil && tj.Truncation.MaxLength > 0 {
		maxLen = tj.Truncation.MaxLength
	}

	wp, err := newWordPiece(vocab, tj.Model.UnkToken, specials, lower, strip, maxLen)
	if err != nil {
		return nil, err
	}
	if tj.Model.ContinuingSubwordPrefix != "" {
		wp.prefix = tj.Model.ContinuingSubwordPrefix
	}
	if tj.Model.MaxInputCharsPerWord > 0 {
		wp.maxCharsPerWord = tj.Model.MaxInputCharsPerWord
	}
	if err := wp.applyConfig(tokConfig); err != nil {
		return nil, err
	}
	return wp, nil
}

// LoadVocabFile reads a one-token-per-line vocab.txt, the layout older BERT
// checkpoints ship instead of tokenizer.json.
func LoadVocabFile(vocabPath, tokConfig string) (*WordPiece, error) {
	data, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, err
	}
	return LoadVocabBytes(data, readOptional(tokConfig))
}

// LoadVocabBytes builds a tokenizer from vocab.txt contents.
func LoadVocabBytes(vocabTxt, tokConfig []byte) (*WordPiece, error) {
	vocab := make(map[string]int)
	sc := bufio.NewScanner(bytes.NewReader(vocabTxt))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	id := 0
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r")
		if _, dup := vocab[tok]; !dup {
			vocab[tok] = id
		}
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab is empty")
	}
	var specials []string
	for tok := range vocab {
		if isBracketSpecial(tok) {
			specials = append(specials, tok)
		}
	}
	wp, err := newWordPiece(vocab, "[UNK]", specials, true, true, defaultMaxLength)
	if err != nil {
		return nil, err
	}
	if err := wp.applyConfig(tokConfig); err != nil {
		return nil, err
	}
	return wp, nil
}

func newWordPiece(vocab map[string]int, unk string, specials []string, lower, strip bool, maxLen int) (*WordPiece, error) {
	maxID := -1
	for _, id := range vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		if id > maxID {
			maxID = id
		}
	}
	decoder := make([]string, maxID+1)
	for tok, id := range vocab {
		decoder[id] = tok
	}
	if unk == "" {
		unk = "[UNK]"
	}
	wp := &WordPiece{
		encoder:         vocab,
		decoder:         decoder,
		prefix:          defaultSubwordPrefix,
		maxCharsPerWord: defaultMaxCharsPerWord,
		lower:           lower,
		stripAccents:    strip,
		maxLength:       maxLen,
		clsID:           lookup(vocab, "[CLS]"),
		sepID:           lookup(vocab, "[SEP]"),
		padID:           lookup(vocab, "[PAD]"),
		unkID:           lookup(vocab, unk),
		unkToken:        unk,
		special:         longestFirst(specials),
	}
	return wp, nil
}

func (t *WordPiece) applyConfig(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var cfg hfTokenizerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse tokenizer_config.json: %w", err)
	}
	if cfg.DoLowerCase != nil {
		t.lower = *cfg.DoLowerCase
		t.stripAccents = t.lower
	}
	if cfg.StripAccents != nil {
		t.stripAccents = *cfg.StripAccents
	}
	// HF writes a huge sentinel for "unbounded"; keep the default then.
	if n := cfg.ModelMaxLength; n != nil && *n > 0 && *n <= 1<<20 {
		t.maxLength = int(*n)
	}
	if id := lookup(t.encoder, string(cfg.CLSToken)); cfg.CLSToken != "" && id >= 0 {
		t.clsID = id
	}
	if id := lookup(t.encoder, string(cfg.SEPToken)); cfg.SEPToken != "" && id >= 0 {
		t.sepID = id
	}
	if id := lookup(t.encoder, string(cfg.PADToken)); cfg.PADToken != "" && id >= 0 {
		t.padID = id
	}
	if id := lookup(t.encoder, string(cfg.UNKToken)); cfg.UNKToken != "" && id >= 0 {
		t.unkID = id
		t.unkToken = string(cfg.UNKToken)
	}
	return nil
}

// SetMaxLength overrides the sequence length limit, including [CLS] and [SEP].
func (t *WordPiece) SetMaxLength(n int) {
	if n > 2 {
		t.maxLength = n
	}
}

// Encode tokenizes text into ids wrapped as [CLS] ... [SEP], truncated to
// the configured maximum length.
func (t *WordPiece) Encode(text string) ([]int, error) {
	pieces, err := t.Tokenize(text)
	if err != nil {
		return nil, err
	}
	budget := len(pieces)
	if t.maxLength > 2 && budget > t.maxLength-2 {
		budget = t.maxLength - 2
	}
	ids := make([]int, 0, budget+2)
	if t.clsID >= 0 {
		ids = append(ids, t.clsID)
	}
	for _, p := range pieces[:budget] {
		ids = append(ids, t.encoder[p])
	}
	if t.sepID >= 0 {
		ids = append(ids, t.sepID)
	}
	return ids, nil
}

// Tokenize returns the WordPiece strings for text without special wrapping
// or truncation.
func (t *WordPiece) Tokenize(text string) ([]string, error) {
	var out []string
	for _, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			out = append(out, part.text)
			continue
		}
		for _, word := range basicTokenize(part.text, t.lower, t.stripAccents) {
			pieces, err := t.wordpiece(word)
			if err != nil {
				return nil, err
			}
			out = append(out, pieces...)
		}
	}
	return out, nil
}

func (t *WordPiece) wordpiece(word string) ([]string, error) {
	if utf8.RuneCountInString(word) > t.maxCharsPerWord {
		return t.unknown(word)
	}
	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		match := ""
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = t.prefix + sub
			}
			if _, ok := t.encoder[sub]; ok {
				match = sub
				break
			}
			// Step back one rune, not one byte.
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if match == "" {
			return t.unknown(word)
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces, nil
}

func (t *WordPiece) unknown(word string) ([]string, error) {
	if t.unkID < 0 {
		return nil, fmt.Errorf("no vocab entry for %q and no unknown token", word)
	}
	return []string{t.unkToken}, nil
}

// Decode joins pieces back into text, merging "##" continuations and
// dropping [CLS], [SEP] and [PAD].
func (t *WordPiece) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if id == t.clsID || id == t.sepID || id == t.padID {
			continue
		}
		tok := t.decoder[id]
		if rest, ok := strings.CutPrefix(tok, t.prefix); ok && b.Len() > 0 {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

// Config reports the effective tokenizer settings.
func (t *WordPiece) Config() TokenizerConfig {
	return TokenizerConfig{
		Model:        "WordPiece",
		DoLowerCase:  t.lower,
		StripAccents: t.stripAccents,
		MaxLength:    t.maxLength,
		VocabSize:    len(t.decoder),
		CLSTokenID:   t.clsID,
		SEPTokenID:   t.sepID,
		PADTokenID:   t.padID,
		UNKTokenID:   t.unkID,
	}
}

func (t *WordPiece) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func lookup(vocab map[string]int, tok string) int {
	if id, ok := vocab[tok]; ok {
		return id
	}
	return -1
}

func readOptional(path string) []byte {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return raw
}

type textPart struct {
	text      string
	isSpecial bool
}

func isBracketSpecial(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") && !strings.Contains(s[1:len(s)-1], " ")
}

func longestFirst(specials []string) []string {
	out := append([]string(nil), specials...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// splitSpecials cuts text around verbatim special tokens so they are never
// lowercased or split.
func splitSpecials(text string, specials []string) []textPart {
	if len(specials) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	var buf strings.Builder
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range specials {
			if sp != "" && strings.HasPrefix(text[i:], sp) {
				match = sp
				break
			}
		}
		if match != "" {
			if buf.Len() > 0 {
				parts = append(parts, textPart{text: buf.String()})
				buf.Reset()
			}
			parts = append(parts, textPart{text: match, isSpecial: true})
			i += len(match)
			continue
		}
		buf.WriteByte(text[i])
		i++
	}
	if buf.Len() > 0 {
		parts = append(parts, textPart{text: buf.String()})
	}
	return parts
}
