// Package chunking provides the shared text chunking used by the Library
// and Journal ingestion pipelines. Chunks are overlapping windows that
// prefer natural break points over hard cuts.
package chunking

import "strings"

// sentenceSeparators are searched for when no paragraph break lands in
// the back half of a window; the latest one found sets the cut.
var sentenceSeparators = []string{". ", ".\n", "? ", "?\n", "! ", "!\n"}

// Chunk splits text into overlapping windows of at most chunkSize bytes.
// When a window would cut mid-content, the cut moves back to the last
// paragraph break within [start+chunkSize/2, end], else to the last
// sentence terminator in the same range. Overlap must be < chunkSize.
func Chunk(text string, chunkSize, overlap int) []string {
	if len(text) <= chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		// end may run past the text; the final window is simply shorter.
		// Capping it here would stall the advance below.
		end := start + chunkSize

		if end < len(text) {
			if paraBreak := lastParagraphBreak(text, start+chunkSize/2, end); paraBreak > start {
				end = paraBreak + 2
			} else {
				end = sentenceBreak(text, start, end)
			}
		}

		sliceEnd := end
		if sliceEnd > len(text) {
			sliceEnd = len(text)
		}
		if chunk := strings.TrimSpace(text[start:sliceEnd]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// A large overlap combined with an early break point must not
		// move the window backwards.
		next := end - overlap
		if next <= start {
			next = start + (chunkSize - overlap)
		}
		start = next
	}

	return chunks
}

// ChunkConversation chunks dialogue text. The parameters are typically
// larger than the document defaults because conversations are denser.
func ChunkConversation(text string, chunkSize, overlap int) []string {
	return Chunk(text, chunkSize, overlap)
}

// lastParagraphBreak returns the index of the last "\n\n" lying wholly
// within [lo, hi), or -1.
func lastParagraphBreak(text string, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	if lo >= hi {
		return -1
	}
	idx := strings.LastIndex(text[lo:hi], "\n\n")
	if idx < 0 {
		return -1
	}
	return lo + idx
}

// sentenceBreak finds the last sentence terminator, of any kind, in the
// back half of the window [start, end) and returns the cut position just
// past it. Falls back to end when none is found.
func sentenceBreak(text string, start, end int) int {
	minPos := start + (end-start)/2
	if end > len(text) {
		end = len(text)
	}
	if minPos < 0 {
		minPos = 0
	}

	best := -1
	for _, sep := range sentenceSeparators {
		if minPos >= end {
			break
		}
		idx := strings.LastIndex(text[minPos:end], sep)
		if idx <= 0 {
			continue
		}
		if cut := minPos + idx + len(sep); cut > best {
			best = cut
		}
	}
	if best >= 0 {
		return best
	}

	return end
}
