// Package chunk splits post text into platform-sized pieces.
//
// Split packs whitespace-delimited words greedily into chunks no longer than
// a configured budget. Words are never broken: a single word longer than the
// budget becomes its own oversized chunk. When a quote link suffix applies,
// its length is reserved in the first chunk and the suffix is appended to it.
//
// Length is counted in runes. Platforms that count every link as a fixed
// number of characters set Options.URLLength.
package chunk

import (
	"iter"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is one word plus the whitespace run that follows it.
type Token struct {
	Word string
	Sep  string
}

// Tokens returns a lazy sequence over the words of text. Leading whitespace
// is skipped. Each range over the sequence scans text from the start.
func Tokens(text string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		i := skip(text, 0, true)
		for i < len(text) {
			start := i
			i = skip(text, i, false)
			wordEnd := i
			i = skip(text, i, true)
			if !yield(Token{Word: text[start:wordEnd], Sep: text[wordEnd:i]}) {
				return
			}
		}
	}
}

// skip advances from i while runes are (space=true) or are not (space=false)
// whitespace.
func skip(text string, i int, space bool) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) != space {
			break
		}
		i += size
	}
	return i
}

// Options configures Split.
type Options struct {
	// MaxChunkSize is the per-chunk budget. Zero or less disables splitting.
	MaxChunkSize int

	// URLs lists links embedded in the text. With URLLength set, words equal
	// to one of them are counted as URLLength runes.
	URLs []string

	// URLLength is the fixed length the platform charges per link. Zero
	// counts links by their literal length.
	URLLength int

	// QuotedID is the source ID of the quoted post, if any.
	QuotedID string

	// AppendQuoteLink enables QuoteLinkSuffix on the first chunk. The suffix
	// only applies when QuotedID is set.
	AppendQuoteLink bool

	// QuoteLinkSuffix is appended verbatim to the first chunk.
	QuoteLinkSuffix string
}

func (o Options) suffix() string {
	if o.AppendQuoteLink && o.QuotedID != "" {
		return o.QuoteLinkSuffix
	}
	return ""
}

func (o Options) weight(word string) int {
	if o.URLLength > 0 && isLink(word, o.URLs) {
		return o.URLLength
	}
	return utf8.RuneCountInString(word)
}

func isLink(word string, urls []string) bool {
	if strings.HasPrefix(word, "https://") || strings.HasPrefix(word, "http://") {
		return true
	}
	return slices.Contains(urls, word)
}

// Measure returns the length of text as Split counts it.
func Measure(text string, opts Options) int {
	n := 0
	for tok := range Tokens(text) {
		n += opts.weight(tok.Word) + utf8.RuneCountInString(tok.Sep)
	}
	return n
}

// Split breaks text into chunks. It always returns at least one chunk; every
// chunk is trimmed of surrounding whitespace before any suffix is appended.
func Split(text string, opts Options) []string {
	suffix := opts.suffix()
	trimmed := strings.TrimSpace(text)
	if opts.MaxChunkSize <= 0 || Measure(trimmed, opts)+utf8.RuneCountInString(suffix) <= opts.MaxChunkSize {
		return []string{trimmed + suffix}
	}

	var (
		chunks  []string
		current strings.Builder
		curLen  int
	)
	closeChunk := func() {
		c := strings.TrimSpace(current.String())
		if len(chunks) == 0 {
			c += suffix
		}
		chunks = append(chunks, c)
		current.Reset()
		curLen = 0
	}

	for tok := range Tokens(trimmed) {
		budget := opts.MaxChunkSize
		if len(chunks) == 0 {
			budget -= utf8.RuneCountInString(suffix)
		}
		n := opts.weight(tok.Word) + utf8.RuneCountInString(tok.Sep)
		if curLen > 0 && curLen+n > budget {
			closeChunk()
		}
		current.WriteString(tok.Word)
		current.WriteString(tok.Sep)
		curLen += n
	}
	if curLen > 0 || len(chunks) == 0 {
		closeChunk()
	}
	return chunks
}
