// Package chunk splits converted text into fixed-size overlapping windows for
// embedding generation.
package chunk

// Split cuts text into chunks of at most size characters where each chunk
// repeats exactly overlap characters from the tail of its predecessor. The
// final chunk may be shorter than size. overlap must be smaller than size,
// which the gateway enforces at admission. Sizes count runes, not bytes, so
// multi-byte text never splits mid-character.
func Split(text string, size, overlap int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap >= size {
		overlap = size - 1
	}
	runes := []rune(text)
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
