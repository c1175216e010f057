package knowledge

import (
	"fmt"
	"strings"

	"github.com/run-bigpig/bizassist/internal/models"
)

// 默认切分参数（字符数）
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker 按字符窗口切分文档，优先在段落或句子边界断开
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker 创建切分器，参数非法时使用默认值
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultChunkOverlap, size/5)
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split 切分文档，每页独立切分以保留页码
func (c Chunker) Split(doc *Document) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range doc.Pages {
		for i, text := range c.splitText(page.Text) {
			id := fmt.Sprintf("%s#%d", doc.ID, i)
			if page.Number > 0 {
				id = fmt.Sprintf("%s#p%d-%d", doc.ID, page.Number, i)
			}
			chunks = append(chunks, models.Chunk{
				ID:         id,
				DocumentID: doc.ID,
				Title:      doc.Title,
				Source:     doc.Source,
				Page:       page.Number,
				Text:       text,
			})
		}
	}
	return chunks
}

func (c Chunker) splitText(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.Size {
		if s := strings.TrimSpace(text); s != "" {
			return []string{s}
		}
		return nil
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := min(start+c.Size, len(runes))
		if end < len(runes) {
			end = breakPoint(runes, start, end)
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		if end == len(runes) {
			break
		}
		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakPoint 在窗口后半段寻找段落、句子或空白边界
func breakPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for _, sep := range []string{"\n\n", ". ", "\n", " "} {
		sr := []rune(sep)
		for i := end - len(sr); i >= floor; i-- {
			if string(runes[i:i+len(sr)]) == sep {
				return i + len(sr)
			}
		}
	}
	return end
}
