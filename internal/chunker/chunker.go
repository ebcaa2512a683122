// Package chunker splits extracted document text into overlapping segments
// for embedding and retrieval.
package chunker

import "fmt"

// Segment is one chunk of source text. Index is the ordinal position within
// the document and becomes the chunk index cited in sources.
type Segment struct {
	Text  string
	Index int
}

// boundary separators in preference order: paragraph, line, sentence, word.
var separators = []string{"\n\n", "\n", ". ", " "}

// Split cuts text into segments of at most size characters (runes), with the
// final overlap characters before each cut repeated at the start of the next
// segment. Cuts prefer natural boundaries within the trailing half of the
// window before falling back to a hard character cut.
//
// Empty input yields no segments; any non-empty input yields at least one.
// The output is deterministic for identical input and parameters.
func Split(text string, size, overlap int) ([]Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d", overlap, size)
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	cuts := cutPoints(runes, size)

	segments := make([]Segment, 0, len(cuts))
	prev := 0
	for i, cut := range cuts {
		start := prev - overlap
		if start < 0 {
			start = 0
		}
		segments = append(segments, Segment{
			Text:  string(runes[start:cut]),
			Index: i,
		})
		prev = cut
	}
	return segments, nil
}

// cutPoints returns the ordered cut positions, each at most size runes after
// the previous, with the final cut at len(runes).
func cutPoints(runes []rune, size int) []int {
	var cuts []int
	pos := 0
	for pos < len(runes) {
		if len(runes)-pos <= size {
			cuts = append(cuts, len(runes))
			break
		}
		cut := boundaryCut(runes[pos:pos+size], size)
		cuts = append(cuts, pos+cut)
		pos += cut
	}
	return cuts
}

// boundaryCut picks the cut offset within a full window, preferring the last
// separator occurrence whose cut lands in the trailing half of the window.
// The separator stays with the left segment.
func boundaryCut(window []rune, size int) int {
	min := size / 2
	for _, sep := range separators {
		if cut := lastSeparatorEnd(window, []rune(sep)); cut >= min {
			return cut
		}
	}
	return size
}

// lastSeparatorEnd returns the index just past the last occurrence of sep in
// window, or -1 if absent.
func lastSeparatorEnd(window, sep []rune) int {
	for i := len(window) - len(sep); i >= 0; i-- {
		if matchAt(window, sep, i) {
			return i + len(sep)
		}
	}
	return -1
}

func matchAt(window, sep []rune, at int) bool {
	for j, r := range sep {
		if window[at+j] != r {
			return false
		}
	}
	return true
}
