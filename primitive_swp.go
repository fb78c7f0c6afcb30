package onion

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// swpBlockSize is the fixed width of each word block in an encoded SWP
// document (spec section 6: "VARBINARY, a concatenation of fixed-width
// blocks").
const swpBlockSize = 16

// SWP implements the searchable SEARCH onion layer: token generation and
// existence testing over a document encoded as a concatenation of
// fixed-width blocks, without revealing which words are present to
// anyone without the right token.
//
// This realizes the keyword index as a deterministic keyed HMAC-SHA256
// tag per word, truncated to swpBlockSize bytes. That gives an exact
// membership test (no false negatives) whose false-positive probability
// is bounded by the truncated-HMAC collision probability
// (2^-(8*swpBlockSize)), matching the bound spec section 4.1 calls for.
type SWP struct {
	key [32]byte
}

// NewSWP constructs an SWP primitive from a 32-byte key.
func NewSWP(key []byte) (*SWP, error) {
	if len(key) != 32 {
		return nil, cryptoErr("SWP: key must be 32 bytes, got %d", len(key))
	}
	s := &SWP{}
	copy(s.key[:], key)
	return s, nil
}

// Token returns the fixed-width block for a single word.
func (s *SWP) Token(word []byte) []byte {
	h := hmac.New(sha256.New, s.key[:])
	h.Write(normalizeWord(word))
	return h.Sum(nil)[:swpBlockSize]
}

// Encode tokenizes words and concatenates their blocks into a single
// document value, matching the SEARCH onion's column layout.
func (s *SWP) Encode(words [][]byte) []byte {
	out := make([]byte, 0, len(words)*swpBlockSize)
	for _, w := range words {
		out = append(out, s.Token(w)...)
	}
	return out
}

// EncodeText splits text on whitespace and encodes the resulting words.
func (s *SWP) EncodeText(text string) []byte {
	fields := strings.Fields(text)
	words := make([][]byte, len(fields))
	for i, f := range fields {
		words[i] = []byte(f)
	}
	return s.Encode(words)
}

// Search reports whether token appears among the fixed-width blocks of
// an encoded document, i.e. whether the word the token was generated for
// is present in the original document.
func (s *SWP) Search(token, encoded []byte) bool {
	if len(token) != swpBlockSize || len(encoded)%swpBlockSize != 0 {
		return false
	}
	for i := 0; i+swpBlockSize <= len(encoded); i += swpBlockSize {
		if subtle.ConstantTimeCompare(encoded[i:i+swpBlockSize], token) == 1 {
			return true
		}
	}
	return false
}

func normalizeWord(w []byte) []byte {
	return []byte(strings.ToLower(string(w)))
}
