package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkTextOverlaps(t *testing.T) {
	p := &Processor{chunkSize: 100, chunkOverlap: 50}

	words := make([]string, 60)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	chunks := p.chunkText(text)
	assert.Greater(t, len(chunks), 1)

	// Consecutive chunks share trailing words.
	tail := strings.Fields(chunks[0])
	head := strings.Fields(chunks[1])
	assert.Equal(t, tail[len(tail)-1], head[0])
}

func TestChunkTextEmpty(t *testing.T) {
	p := &Processor{chunkSize: 100, chunkOverlap: 10}
	assert.Nil(t, p.chunkText("   "))
}

func TestCleanHTMLStripsChrome(t *testing.T) {
	p := &Processor{}
	html := `<html><body>
		<nav>menu</nav>
		<script>alert(1)</script>
		<p>Photosynthesis converts light into energy.</p>
		<footer>copyright</footer>
	</body></html>`

	text := normalizeWhitespace(p.cleanHTML(html))
	assert.Contains(t, text, "Photosynthesis converts light into energy.")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "copyright")
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, looksLikeHTML("<p>hello</p>"))
	assert.True(t, looksLikeHTML("<HTML><body></body></HTML>"))
	assert.False(t, looksLikeHTML("plain text about plants"))
}
