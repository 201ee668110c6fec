package services

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Segmenter splits extracted text into overlapping windows. Cut points are
// chosen by a recursive boundary search: paragraph breaks first, then line
// breaks, then spaces, then raw characters, so a split lands on the most
// meaningful boundary available inside the window.
type Segmenter struct {
	window  int
	overlap int
}

// boundary separators in priority order; the empty string means a raw
// character cut.
var separators = []string{"\n\n", "\n", " ", ""}

func NewSegmenter(window, overlap int) (*Segmenter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("segment window must be positive, got %d", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("segment overlap %d must be in [0, window %d)", overlap, window)
	}
	return &Segmenter{window: window, overlap: overlap}, nil
}

// Piece is one output segment: a verbatim slice of the input text, its
// ordinal position, and its byte offset in the input.
type Piece struct {
	Text    string
	Ordinal int
	Start   int
}

// Split returns the ordered segments of text. Ordinals start at 0 with no
// gaps. Each segment after the first is extended backward by up to the
// configured overlap into the preceding one, so context survives a cut.
func (s *Segmenter) Split(text string) []Piece {
	if len(text) == 0 {
		return nil
	}

	// Base cuts of at most window bytes each.
	var cuts []int // start offset of each base cut
	pos := 0
	for len(text)-pos > s.window {
		cuts = append(cuts, pos)
		pos = s.findCut(text, pos)
	}
	cuts = append(cuts, pos)

	pieces := make([]Piece, 0, len(cuts))
	for i, start := range cuts {
		end := len(text)
		if i+1 < len(cuts) {
			end = cuts[i+1]
		}

		segStart := start
		if i > 0 {
			segStart = start - s.overlap
			if prev := cuts[i-1]; segStart < prev {
				segStart = prev
			}
			// Never start mid-rune.
			for segStart < start && !utf8.RuneStart(text[segStart]) {
				segStart++
			}
		}

		pieces = append(pieces, Piece{
			Text:    text[segStart:end],
			Ordinal: i,
			Start:   segStart,
		})
	}

	return pieces
}

// findCut picks the end of the base cut starting at pos. It prefers the
// last occurrence of the highest-priority separator in the back half of
// the window, falling through to lower priorities and finally to a raw cut
// at exactly window bytes.
func (s *Segmenter) findCut(text string, pos int) int {
	limit := pos + s.window
	floor := pos + s.window/2

	for _, sep := range separators {
		if sep == "" {
			break
		}
		idx := strings.LastIndex(text[pos:limit], sep)
		if idx < 0 {
			continue
		}
		cut := pos + idx + len(sep)
		if cut > floor {
			return cut
		}
	}

	// Raw cut, backed off to a rune boundary.
	cut := limit
	for cut > pos && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == pos {
		return limit
	}
	return cut
}
