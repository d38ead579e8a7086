package indexer

import "unicode"

// Chunking defaults. Boundaries are a pure function of
// (size, overlap, source text) so re-indexing is deterministic.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// pageText is the extracted text of one document page.
type pageText struct {
	Page int
	Text string
}

// docChunk is one chunker output span with its page range.
type docChunk struct {
	Text      string
	Ordinal   int
	PageStart int
	PageEnd   int
}

// chunkPages concatenates page texts and cuts fixed-size rune windows
// with the configured overlap, tracking which pages each window spans.
// Every chunk except the final one is exactly size runes.
func chunkPages(pages []pageText, size, overlap int) []docChunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	// Flatten to runes so Arabic-script text never splits mid-character,
	// keeping a page number per rune for span lookup.
	var runes []rune
	var pageOf []int
	for _, p := range pages {
		for _, r := range p.Text {
			runes = append(runes, r)
			pageOf = append(pageOf, p.Page)
		}
		runes = append(runes, '\n')
		pageOf = append(pageOf, p.Page)
	}
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []docChunk
	for start, ordinal := 0, 0; start < len(runes); start, ordinal = start+step, ordinal+1 {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		text := string(runes[start:end])
		if !hasContent(text) {
			if end == len(runes) {
				break
			}
			continue
		}
		chunks = append(chunks, docChunk{
			Text:      text,
			Ordinal:   ordinal,
			PageStart: pageOf[start],
			PageEnd:   pageOf[end-1],
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func hasContent(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// detectScript gives the coarse language tag stored with a document
// chunk: Arabic-script text cannot be told apart from the Kurdish
// variants without a real detector, so it is tagged "ar"; Latin-script
// text is tagged "en", and text with letters of neither script is
// "unknown".
func detectScript(s string) string {
	var latin, arabic int
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case arabic > latin && arabic > 0:
		return "ar"
	case latin > 0:
		return "en"
	default:
		return "unknown"
	}
}
