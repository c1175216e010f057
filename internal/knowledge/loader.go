// Package knowledge 知识库文档加载与切分
package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"gopkg.in/yaml.v3"

	"github.com/run-bigpig/bizassist/internal/logger"
)

var log = logger.New("Knowledge")

// 加载限制
const (
	MaxPDFPages = 200
	MaxFileSize = 20 << 20
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrFileTooLarge      = errors.New("document too large")
	ErrEmptyDocument     = errors.New("document has no text")
)

// Page 文档页，无分页格式只有一页且 Number 为 0
type Page struct {
	Number int
	Text   string
}

// Document 已加载的文档
type Document struct {
	ID     string
	Title  string
	Source string
	Pages  []Page
}

// SupportedExtensions 支持的文件扩展名
var SupportedExtensions = []string{".txt", ".md", ".markdown", ".pdf", ".json", ".yaml", ".yml", ".html", ".htm"}

// Supported 是否支持该文件
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// LoadFile 按扩展名加载单个文件
func LoadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse 解析文档内容，path 用于判断格式和生成来源
func Parse(path string, data []byte) (*Document, error) {
	doc := &Document{
		ID:     filepath.ToSlash(path),
		Source: filepath.Base(path),
		Title:  titleFromFilename(path),
	}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		doc.Pages = []Page{{Text: string(data)}}
	case ".md", ".markdown":
		text := string(data)
		if h := firstHeading(text); h != "" {
			doc.Title = h
		}
		doc.Pages = []Page{{Text: text}}
	case ".pdf":
		doc.Pages, err = parsePDF(data)
	case ".json", ".yaml", ".yml":
		var text string
		text, err = parseStructured(data)
		doc.Pages = []Page{{Text: text}}
	case ".html", ".htm":
		var title, text string
		title, text, err = parseHTML(data)
		if title != "" {
			doc.Title = title
		}
		doc.Pages = []Page{{Text: text}}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	pages := doc.Pages[:0]
	for _, p := range doc.Pages {
		p.Text = normalizeWhitespace(p.Text)
		if p.Text != "" {
			pages = append(pages, p)
		}
	}
	doc.Pages = pages
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, path)
	}
	return doc, nil
}

// LoadDir 递归加载目录下所有支持的文件，单个文件失败只记录日志
func LoadDir(root string) ([]*Document, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	docs, err := LoadFS(os.DirFS(root))
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return docs, nil
}

// LoadFS 从文件系统加载所有支持的文件，来源为相对路径
func LoadFS(fsys fs.FS) ([]*Document, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if Supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	docs := make([]*Document, 0, len(paths))
	for _, p := range paths {
		doc, err := loadFSFile(fsys, p)
		if err != nil {
			log.Warn("skip %s: %v", p, err)
			continue
		}
		doc.ID = p
		doc.Source = p
		docs = append(docs, doc)
	}
	log.Info("loaded %d/%d documents", len(docs), len(paths))
	return docs, nil
}

func loadFSFile(fsys fs.FS, path string) (*Document, error) {
	info, err := fs.Stat(fsys, path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, info.Size())
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// parsePDF 逐页提取文本，提取失败的页跳过
func parsePDF(data []byte) ([]Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	if total > MaxPDFPages {
		return nil, fmt.Errorf("pdf has too many pages (%d), max %d", total, MaxPDFPages)
	}
	var pages []Page
	for n := 1; n <= total; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug("skip pdf page %d: %v", n, err)
			continue
		}
		pages = append(pages, Page{Number: n, Text: text})
	}
	return pages, nil
}

// parseStructured 将 JSON/YAML 展平为 "Key: value" 文本
func parseStructured(data []byte) (string, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return "", err
	}
	var sb strings.Builder
	flatten(&sb, "", v)
	return sb.String(), nil
}

func flatten(sb *strings.Builder, prefix string, v any) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(sb, joinKey(prefix, humanize(k)), x[k])
		}
	case []any:
		for _, item := range x {
			flatten(sb, prefix, item)
		}
	case nil:
	default:
		if prefix == "" {
			fmt.Fprintf(sb, "%v\n", x)
			return
		}
		fmt.Fprintf(sb, "%s: %v\n", prefix, x)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + " - " + key
}

// parseHTML 提取标题和正文
func parseHTML(data []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, nav, footer").Remove()

	var sb strings.Builder
	doc.Find("h1, h2, h3, h4, p, li, td").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	})
	if sb.Len() == 0 {
		sb.WriteString(doc.Find("body").Text())
	}
	return title, sb.String(), nil
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

func titleFromFilename(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return humanize(base)
}

// humanize "company_services-faq" -> "Company Services Faq"
func humanize(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// normalizeWhitespace 合并行内空白，保留段落分隔
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
