package blockview

import "strings"

// entry is one piece of block content: literal text or a placeholder.
type entry struct {
	text        string
	placeholder *Placeholder
}

// Block is a named, append-only list of entries. Entries are assembled in the
// order they were printed, not the order their placeholders resolve.
type Block struct {
	Name    string
	entries []entry
	// run holds the text printed since the last placeholder
	run strings.Builder
}

func newBlock(name string) *Block {
	return &Block{Name: name}
}

func (b *Block) appendText(text string) {
	b.run.WriteString(text)
}

func (b *Block) appendPlaceholder(p *Placeholder) {
	b.flush()
	b.entries = append(b.entries, entry{placeholder: p})
}

// flush closes the current text run into an entry.
func (b *Block) flush() {
	if b.run.Len() == 0 {
		return
	}
	b.entries = append(b.entries, entry{text: b.run.String()})
	b.run.Reset()
}

// Len returns the number of entries.
func (b *Block) Len() int {
	if b.run.Len() > 0 {
		return len(b.entries) + 1
	}
	return len(b.entries)
}

func (b *Block) snapshot() []entry {
	b.flush()
	out := make([]entry, len(b.entries))
	copy(out, b.entries)
	return out
}

func hasPlaceholders(entries []entry) bool {
	for _, e := range entries {
		if e.placeholder != nil {
			return true
		}
	}
	return false
}

func joinTexts(entries []entry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.text)
	}
	return sb.String()
}
