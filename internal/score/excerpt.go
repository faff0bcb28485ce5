package score

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"
)

// Excerpt is the bounded content reference handed to a backend.
type Excerpt struct {
	Path     string
	FileType string
	// Text is empty when the file type is referenced by name only (pdf).
	Text string
}

// Reference renders the excerpt for a prompt: the file name, plus the text when any.
func (e Excerpt) Reference() string {
	name := filepath.Base(e.Path)
	if e.Text == "" {
		return "file: " + name
	}
	return "file: " + name + "\n\n" + e.Text
}

// readLimit bounds how much of a raw text file is read before truncating to runes.
func readLimit(maxChars int) int64 {
	return int64(maxChars)*utf8.UTFMax + utf8.UTFMax
}

// ReadExcerpt extracts at most maxChars characters of text from the file at path.
// The type comes from the extension: html via goquery, txt and csv raw, xlsx
// cell values, docx paragraph text. pdf and unknown types carry no text.
func ReadExcerpt(path string, maxChars int) (Excerpt, error) {
	if maxChars <= 0 {
		maxChars = 8000
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	ex := Excerpt{Path: path, FileType: ext}

	var (
		text string
		err  error
	)
	switch ext {
	case "html", "htm":
		text, err = htmlText(path)
	case "txt", "csv", "md":
		text, err = rawText(path, readLimit(maxChars))
	case "xlsx":
		text, err = xlsxText(path, maxChars)
	case "docx":
		text, err = docxText(path, maxChars)
	default:
		if _, err := os.Stat(path); err != nil {
			return ex, fmt.Errorf("stat %s: %w", path, err)
		}
		return ex, nil
	}
	if err != nil {
		return ex, err
	}
	ex.Text = truncate(collapse(text), maxChars)
	return ex, nil
}

func htmlText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("parse html %s: %w", path, err)
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), nil
}

func rawText(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func xlsxText(path string, maxChars int) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, " "))
			b.WriteByte('\n')
			if b.Len() > maxChars*utf8.UTFMax {
				return b.String(), nil
			}
		}
	}
	return b.String(), nil
}

// docxText pulls the w:t runs out of word/document.xml, one line per w:p.
func docxText(path string, maxChars int) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", path, err)
	}
	defer zr.Close()

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("docx has no word/document.xml")
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for b.Len() <= maxChars*utf8.UTFMax {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inText = t.Name.Local == "t"
		case xml.EndElement:
			inText = false
			if t.Name.Local == "p" {
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// collapse trims every line and drops blank ones.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
