package IO

import (
	"fmt"
	"strconv"
	"strings"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer turns text into the fixed-length id rows the model consumes.
type Tokenizer struct {
	tok    *tk.Tokenizer
	PadID  int
	MaxLen int
}

// Pad token spellings looked up, in order, when no pad id is given.
var padTokens = []string{"[PAD]", "<pad>", "<PAD>", "<|pad|>"}

// LoadTokenizer reads a HuggingFace tokenizer.json. A negative padID takes
// the id of the vocabulary's pad token, and it is an error if there is none.
func LoadTokenizer(path string, padID, maxLen int) (*Tokenizer, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	if padID < 0 {
		id, ok := padFromVocab(t.TokenToId)
		if !ok {
			return nil, fmt.Errorf("tokenizer %s has none of the pad tokens %v; pass a pad id", path, padTokens)
		}
		padID = id
	}
	return &Tokenizer{tok: t, PadID: padID, MaxLen: maxLen}, nil
}

func padFromVocab(lookup func(token string) (int, bool)) (int, bool) {
	for _, p := range padTokens {
		if id, ok := lookup(p); ok {
			return id, true
		}
	}
	return 0, false
}

func (t *Tokenizer) VocabSize() int {
	return len(t.tok.GetVocab(true))
}

// EncodeBatch encodes each text without special tokens and pads/truncates to MaxLen.
func (t *Tokenizer) EncodeBatch(texts []string) ([][]int, error) {
	out := make([][]int, len(texts))
	for i, text := range texts {
		enc, err := t.tok.EncodeSingle(text, false)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", text, err)
		}
		ids := make([]int, len(enc.Ids))
		for j, v := range enc.Ids {
			ids[j] = int(v)
		}
		out[i] = PadTruncate(ids, t.MaxLen, t.PadID)
	}
	return out, nil
}

// PadTruncate returns ids cut or right-padded with padID to exactly maxLen.
func PadTruncate(ids []int, maxLen, padID int) []int {
	out := make([]int, maxLen)
	n := copy(out, ids)
	for i := n; i < maxLen; i++ {
		out[i] = padID
	}
	return out
}

// ParseIDs parses "2,3,4" into ids.
func ParseIDs(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("token id %q: %w", f, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
