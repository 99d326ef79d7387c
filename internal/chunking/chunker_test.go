package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkShortTextSingleChunk(t *testing.T) {
	text := "Apples are red."
	chunks := Chunk(text, 1000, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkWhitespaceOnlyProducesNothing(t *testing.T) {
	assert.Nil(t, Chunk("   \n\n  ", 100, 10))
	assert.Nil(t, Chunk("", 100, 10))
}

func TestChunkOverlappingWindows(t *testing.T) {
	text := "Apples are red. Bananas are yellow. Cherries are dark red."
	chunks := Chunk(text, 40, 5)

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 40)
		assert.Equal(t, strings.TrimSpace(c), c)
	}
	assert.Contains(t, chunks[0], "Apples")
	assert.Contains(t, chunks[len(chunks)-1], "Cherries")
}

func TestChunkPrefersSentenceBreaks(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence is a bit longer than the others."
	chunks := Chunk(text, 50, 10)

	require.GreaterOrEqual(t, len(chunks), 2)
	// The first cut should land just past a sentence terminator, not mid-word.
	assert.True(t, strings.HasSuffix(chunks[0], "."), "chunk %q should end at a sentence break", chunks[0])
}

func TestChunkPrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("alpha beta gamma ", 4)
	para2 := strings.Repeat("delta epsilon zeta ", 4)
	text := strings.TrimSpace(para1) + "\n\n" + strings.TrimSpace(para2)

	chunks := Chunk(text, 80, 10)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.NotContains(t, chunks[0], "delta", "first chunk should stop at the paragraph break")
}

// Concatenating chunks with overlaps removed must reproduce the source
// text modulo the edge whitespace stripped from each window.
func TestChunkCoversSource(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "Unique sentence number %d lives in this document. ", i)
	}
	text := sb.String()
	chunkSize, overlap := 100, 20
	chunks := Chunk(text, chunkSize, overlap)
	require.NotEmpty(t, chunks)

	squash := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	var rebuilt strings.Builder
	for i, c := range chunks {
		if i == 0 {
			rebuilt.WriteString(squash(c))
			continue
		}
		prev := squash(rebuilt.String())
		cur := squash(c)
		// Find the longest suffix of prev that prefixes cur.
		joined := false
		for k := len(cur); k > 0; k-- {
			if strings.HasSuffix(prev, cur[:k]) {
				rebuilt.WriteString(cur[k:])
				joined = true
				break
			}
		}
		if !joined {
			rebuilt.WriteString(" " + cur)
		}
	}
	assert.Equal(t, squash(text), squash(rebuilt.String()))
}

func TestChunkConversationUsesLargerWindows(t *testing.T) {
	text := "[USER] tell me about pears\n\n[ASSISTANT] Pears are sweet fruits that grow on trees."
	chunks := ChunkConversation(text, 1500, 150)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}
