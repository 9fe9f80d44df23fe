// internal/ble/protocol/chunk.go
package protocol

// MaxChunkPayload is the number of body bytes carried by one BLE write.
const MaxChunkPayload = 500

// MaxChunkSize is a full write: one sequence byte plus the payload.
const MaxChunkSize = MaxChunkPayload + 1

// Chunker slices a job body into sequence-prefixed writes. It yields each
// chunk once, in order, and cannot be rewound.
type Chunker struct {
	body []byte
	seq  byte
}

// NewChunker returns a Chunker over body. The body is not copied.
func NewChunker(body []byte) *Chunker {
	return &Chunker{body: body}
}

// Next returns the next chunk, or false once the body is exhausted.
//
// The first chunk carries sequence byte 0x00. Every later chunk carries the
// previous chunk's sequence byte plus one, wrapping at 256; printers have
// only been observed accepting this numbering.
func (c *Chunker) Next() ([]byte, bool) {
	if len(c.body) == 0 {
		return nil, false
	}
	n := min(len(c.body), MaxChunkPayload)

	chunk := make([]byte, 0, n+1)
	chunk = append(chunk, c.seq)
	chunk = append(chunk, c.body[:n]...)
	c.body = c.body[n:]

	c.seq = chunk[0] + 1
	return chunk, true
}

// Remaining returns the number of body bytes not yet emitted.
func (c *Chunker) Remaining() int {
	return len(c.body)
}

// Chunk splits body into the ordered list of writes that follow the header.
// Returns nil for an empty body.
func Chunk(body []byte) [][]byte {
	var chunks [][]byte
	c := NewChunker(body)
	for {
		chunk, ok := c.Next()
		if !ok {
			return chunks
		}
		chunks = append(chunks, chunk)
	}
}

// Payload strips the sequence byte from each chunk and concatenates the
// rest, reversing Chunk.
func Payload(chunks [][]byte) []byte {
	var buf []byte
	for _, c := range chunks {
		if len(c) > 1 {
			buf = append(buf, c[1:]...)
		}
	}
	return buf
}
