package ner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

type tokenOffset struct {
	Start int
	End   int
}

var noOffset = tokenOffset{Start: -1, End: -1}

// WordPieceTokenizer is a BERT-compatible tokenizer that keeps byte offsets
// for every piece so token labels can be mapped back onto the input.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
	continuation string
}

// LoadWordPieceTokenizer builds the tokenizer from vocab.txt.
func LoadWordPieceTokenizer(path string, lowerCase bool) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	return newWordPieceTokenizer(vocab, lowerCase), nil
}

func newWordPieceTokenizer(vocab map[string]int64, lowerCase bool) *WordPieceTokenizer {
	return &WordPieceTokenizer{
		vocab:        vocab,
		lowerCase:    lowerCase,
		continuation: "##",
		clsID:        vocab["[CLS]"],
		sepID:        vocab["[SEP]"],
		padID:        vocab["[PAD]"],
		unkID:        vocab["[UNK]"],
	}
}

// findVocab locates vocab.txt inside a model bundle.
func findVocab(dir string) (string, error) {
	candidates := []string{
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "tokenizer", "vocab.txt"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("tokenizer vocab.txt not found under %s", dir)
}

// maxWordBytes mirrors BERT's max_input_chars_per_word: longer words map to
// a single [UNK] piece instead of an expensive greedy search.
const maxWordBytes = 100

// Encoding is one tokenized record, padded to the model's sequence length.
// Offsets are byte ranges into the input; special and padding tokens carry
// noOffset.
type Encoding struct {
	IDs     []int64
	Mask    []int64
	Offsets []tokenOffset
	// Truncated is set when words past the sequence length were dropped.
	// Next is then the byte offset of the first dropped word.
	Truncated bool
	Next      int
}

// Encode tokenizes text into exactly seqLen positions: [CLS] pieces [SEP]
// then padding.
func (t *WordPieceTokenizer) Encode(text string, seqLen int) Encoding {
	if seqLen < 2 {
		return Encoding{}
	}
	enc := Encoding{
		IDs:     make([]int64, 0, seqLen),
		Mask:    make([]int64, seqLen),
		Offsets: make([]tokenOffset, 0, seqLen),
	}
	enc.push(t.clsID, noOffset)

	budget := seqLen - 1
	for _, w := range splitWordsWithOffsets(text) {
		pieces := t.pieces(w.Text)
		if len(enc.IDs)+len(pieces) > budget {
			if len(enc.IDs) == 1 && budget >= 2 {
				// Alone in the window and still too long: one [UNK] keeps
				// the window moving.
				pieces = []piece{{id: t.unkID, start: 0, end: len(w.Text)}}
			} else {
				// A word that does not fit whole is left for the next window
				// rather than split, so a span never ends inside a word.
				enc.Truncated = true
				enc.Next = w.Start
				break
			}
		}
		for _, p := range pieces {
			enc.push(p.id, tokenOffset{Start: w.Start + p.start, End: w.Start + p.end})
		}
	}
	enc.push(t.sepID, noOffset)

	for i := range enc.IDs {
		enc.Mask[i] = 1
	}
	for len(enc.IDs) < seqLen {
		enc.push(t.padID, noOffset)
	}
	return enc
}

func (e *Encoding) push(id int64, off tokenOffset) {
	e.IDs = append(e.IDs, id)
	e.Offsets = append(e.Offsets, off)
}

type piece struct {
	id         int64
	start, end int
}

// pieces splits one word by greedy longest match against the vocabulary.
// Offsets are relative to the original word, before lower-casing.
func (t *WordPieceTokenizer) pieces(word string) []piece {
	token := word
	if t.lowerCase {
		token = strings.ToLower(word)
	}
	unk := []piece{{id: t.unkID, start: 0, end: len(word)}}
	if len(token) != len(word) || len(token) > maxWordBytes {
		// Lower-casing changed byte lengths; offsets would no longer line up.
		if id, ok := t.vocab[token]; ok {
			return []piece{{id: id, start: 0, end: len(word)}}
		}
		return unk
	}
	if id, ok := t.vocab[token]; ok {
		return []piece{{id: id, start: 0, end: len(word)}}
	}

	var out []piece
	for start := 0; start < len(token); {
		end := len(token)
		for ; end > start; end-- {
			sub := token[start:end]
			if start > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				out = append(out, piece{id: id, start: start, end: end})
				break
			}
		}
		if end == start {
			return unk
		}
		start = end
	}
	return out
}

type wordSpan struct {
	Text  string
	Start int
	End   int
}

// splitWordsWithOffsets splits on whitespace and isolates punctuation as
// single-rune words, like the BERT basic tokenizer.
func splitWordsWithOffsets(text string) []wordSpan {
	if text == "" {
		return nil
	}
	var spans []wordSpan
	start := -1
	flush := func(end int) {
		if start >= 0 {
			spans = append(spans, wordSpan{Text: text[start:end], Start: start, End: end})
			start = -1
		}
	}
	for idx, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(idx)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush(idx)
			end := idx + len(string(r))
			spans = append(spans, wordSpan{Text: text[idx:end], Start: idx, End: end})
		default:
			if start < 0 {
				start = idx
			}
		}
	}
	flush(len(text))
	return spans
}
