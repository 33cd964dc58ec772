// Package textsplit cuts documents into overlapping windows of bounded length.
package textsplit

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"travel-planner/internal/domain"
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character splitter. Lengths are measured in runes.
// Every chunk is at most size runes long and shares at most overlap runes
// with the chunk before it.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// New returns a Splitter using DefaultSeparators.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, errors.New("textsplit: chunk size must be positive")
	}
	if overlap < 0 {
		return nil, errors.New("textsplit: chunk overlap must not be negative")
	}
	if overlap >= size {
		return nil, errors.New("textsplit: chunk overlap must be smaller than chunk size")
	}
	return &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}, nil
}

// piece is a contiguous span of the source text starting at rune offset start.
type piece struct {
	text  string
	start int
	len   int
}

// SplitDocuments splits every document and numbers the chunks consecutively.
func (s *Splitter) SplitDocuments(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, doc := range docs {
		for _, p := range s.split(doc.Content, 0, s.separators) {
			out = append(out, domain.Chunk{
				Source: doc.Source,
				Index:  len(out),
				Offset: p.start,
				Text:   p.text,
			})
		}
	}
	return out
}

// SplitText returns the chunk texts of text.
func (s *Splitter) SplitText(text string) []string {
	pieces := s.split(text, 0, s.separators)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.text
	}
	return out
}

func (s *Splitter) split(text string, start int, separators []string) []piece {
	sep := separators[len(separators)-1]
	var next []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = candidate
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			next = separators[i+1:]
			break
		}
	}

	var (
		final []piece
		good  []piece
	)
	for _, sp := range splitKeepingSeparator(text, start, sep) {
		if sp.len < s.size {
			good = append(good, sp)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, sp)
		} else {
			final = append(final, s.split(sp.text, sp.start, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge packs small pieces into windows, carrying up to overlap runes of
// trailing pieces into the next window.
func (s *Splitter) merge(splits []piece) []piece {
	var (
		docs    []piece
		current []piece
		total   int
	)
	for _, d := range splits {
		if total+d.len > s.size && len(current) > 0 {
			if doc, ok := join(current); ok {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+d.len > s.size && total > 0) {
				total -= current[0].len
				current = current[1:]
			}
		}
		current = append(current, d)
		total += d.len
	}
	if doc, ok := join(current); ok {
		docs = append(docs, doc)
	}
	return docs
}

// join concatenates contiguous pieces and trims surrounding whitespace.
func join(pieces []piece) (piece, bool) {
	if len(pieces) == 0 {
		return piece{}, false
	}
	var b strings.Builder
	for _, p := range pieces {
		b.WriteString(p.text)
	}
	raw := b.String()
	trimmedLeft := strings.TrimLeftFunc(raw, unicode.IsSpace)
	text := strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)
	if text == "" {
		return piece{}, false
	}
	lead := utf8.RuneCountInString(raw) - utf8.RuneCountInString(trimmedLeft)
	return piece{
		text:  text,
		start: pieces[0].start + lead,
		len:   utf8.RuneCountInString(text),
	}, true
}

// splitKeepingSeparator cuts text before every occurrence of sep, so each
// piece after the first begins with the separator. An empty sep yields runes.
func splitKeepingSeparator(text string, start int, sep string) []piece {
	var out []piece
	if sep == "" {
		offset := start
		for _, r := range text {
			out = append(out, piece{text: string(r), start: offset, len: 1})
			offset++
		}
		return out
	}

	offset := start
	emit := func(segment string) {
		n := utf8.RuneCountInString(segment)
		if n > 0 {
			out = append(out, piece{text: segment, start: offset, len: n})
		}
		offset += n
	}

	rest := text
	first := true
	for {
		searchFrom := 0
		if !first {
			searchFrom = len(sep)
		}
		idx := strings.Index(rest[searchFrom:], sep)
		if idx < 0 {
			emit(rest)
			return out
		}
		cut := searchFrom + idx
		emit(rest[:cut])
		rest = rest[cut:]
		first = false
	}
}
