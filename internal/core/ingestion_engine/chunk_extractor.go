package ingestion_engine

import (
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// ChunkText splits text into overlapping windows of at most maxSize bytes.
//
// Each window prefers to end just after the last '.' or '\n' found in its
// second half; otherwise it is cut at maxSize-overlap from its start. The next
// window starts overlap bytes before the cut, but always strictly after the
// previous start, so the loop terminates for any input.
func ChunkText(documentID, text string, maxSize, overlap int) []models.Chunk {
	maxSize, overlap = sanitizeChunkParams(maxSize, overlap)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []models.Chunk{{DocumentID: documentID, Index: 0, Start: 0, End: len(text), Text: text}}
	}

	var (
		out   []models.Chunk
		start int
	)
	for start < len(text) {
		end := start + maxSize
		if end >= len(text) {
			out = append(out, newChunk(documentID, len(out), text, start, len(text)))
			break
		}

		cut := -1
		if i := strings.LastIndexAny(text[start:end], ".\n"); i > maxSize/2 {
			cut = start + i + 1
		} else {
			cut = start + maxSize - overlap
		}
		cut = runeFloor(text, cut, start)

		out = append(out, newChunk(documentID, len(out), text, start, cut))

		next := runeFloor(text, cut-overlap, start)
		if next <= start {
			next = cut
		}
		start = next
	}
	return out
}

func newChunk(documentID string, idx int, text string, start, end int) models.Chunk {
	return models.Chunk{
		DocumentID: documentID,
		Index:      idx,
		Start:      start,
		End:        end,
		Text:       text[start:end],
	}
}

func sanitizeChunkParams(maxSize, overlap int) (int, int) {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}
	return maxSize, overlap
}

// runeFloor moves i back to the start of the rune containing it, without
// going to or below floor. If that is impossible it moves forward instead.
func runeFloor(s string, i, floor int) int {
	if i >= len(s) {
		return len(s)
	}
	if i <= floor {
		return floor
	}
	j := i
	for j > floor && !utf8.RuneStart(s[j]) {
		j--
	}
	if j > floor {
		return j
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
