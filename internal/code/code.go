package code

import (
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"wormhole/internal/domain"
)

// DefaultWords is the number of words Generate is usually called with.
const DefaultWords = 2

var (
	// ErrInvalidCode is returned by Parse for anything that is not a numeric
	// nameplate followed by at least one word.
	ErrInvalidCode = errors.New("code: invalid wormhole code")

	// ErrWordCount is returned by Generate for a non-positive word count.
	ErrWordCount = errors.New("code: need at least one word")
)

//go:embed words.txt
var rawWords string

// wordlist[0] is the even column, wordlist[1] the odd one; each has 256
// entries indexed by byte value.
var wordlist = parseWords(rawWords)

func parseWords(raw string) [2][256]string {
	var out [2][256]string
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) != 256 {
		panic(fmt.Sprintf("code: word list has %d lines, want 256", len(lines)))
	}
	for i, line := range lines {
		f := strings.Fields(line)
		if len(f) != 2 {
			panic(fmt.Sprintf("code: malformed word list line %d", i+1))
		}
		out[0][i], out[1][i] = f[0], f[1]
	}
	return out
}

// Generate returns a fresh code for nameplate np with the given number of
// random words.
func Generate(np domain.Nameplate, words int) (string, error) {
	if !np.Valid() {
		return "", fmt.Errorf("%w: nameplate %q", ErrInvalidCode, np)
	}
	if words <= 0 {
		return "", ErrWordCount
	}
	b := make([]byte, words)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	parts := make([]string, 0, words+1)
	parts = append(parts, string(np))
	for i, v := range b {
		parts = append(parts, wordlist[i%2][v])
	}
	return strings.Join(parts, "-"), nil
}

// Parse returns the nameplate of code. Words are not checked against the
// list; any non-empty password is accepted.
func Parse(code string) (domain.Nameplate, error) {
	np, rest, ok := strings.Cut(strings.TrimSpace(code), "-")
	if !ok || rest == "" {
		return "", ErrInvalidCode
	}
	if n := domain.Nameplate(np); n.Valid() {
		return n, nil
	}
	return "", fmt.Errorf("%w: non-numeric nameplate %q", ErrInvalidCode, np)
}

// Normalize trims surrounding space and collapses runs of spaces inside a
// typed code into single dashes, so "7 guitarist revenge" works too.
func Normalize(code string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(code, "-", " ")), "-")
}
