package domain

// Document is the text extracted from one loaded source.
type Document struct {
	Source  string
	Content string
}

// Chunk is a bounded window of a Document's text. Offset is the rune offset
// of Text within the source document.
type Chunk struct {
	Source string
	Index  int
	Offset int
	Text   string
}
