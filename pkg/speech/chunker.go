package speech

// DefaultMinChars is the shortest chunk Push will emit.
const DefaultMinChars = 20

// Chunker accumulates streamed text and cuts it into speakable pieces.
// A Chunker is owned by one stream and is not safe for concurrent use.
type Chunker struct {
	buf      []rune
	minChars int
}

// NewChunker returns an empty chunker. minChars <= 0 selects DefaultMinChars.
func NewChunker(minChars int) *Chunker {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Chunker{minChars: minChars}
}

// Push appends fragment to the buffer. Once the buffer holds at least
// minChars characters, the text up to and including the first delimiter at
// or past position minChars is returned and removed from the buffer.
// At most one chunk is returned per call.
func (c *Chunker) Push(fragment string) (string, bool) {
	c.buf = append(c.buf, []rune(fragment)...)

	if len(c.buf) < c.minChars {
		return "", false
	}

	for i := c.minChars; i < len(c.buf); i++ {
		if !isDelimiter(c.buf[i]) {
			continue
		}
		chunk := string(c.buf[:i+1])
		c.buf = append([]rune(nil), c.buf[i+1:]...)
		return chunk, true
	}

	return "", false
}

// Flush returns whatever is left in the buffer and empties it.
func (c *Chunker) Flush() (string, bool) {
	if len(c.buf) == 0 {
		return "", false
	}
	chunk := string(c.buf)
	c.buf = nil
	return chunk, true
}

// Buffered returns the number of characters waiting in the buffer
func (c *Chunker) Buffered() int {
	return len(c.buf)
}

// Space splits like punctuation, which can cut a clause at a word boundary.
func isDelimiter(r rune) bool {
	switch r {
	case '。', '！', '？', '，', '、',
		'.', '!', '?', ',',
		' ':
		return true
	}
	return false
}
