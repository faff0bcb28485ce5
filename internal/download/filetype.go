package download

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// Supported file types.
const (
	TypePDF  = "pdf"
	TypeDOCX = "docx"
	TypeHTML = "html"
	TypeTXT  = "txt"
	TypeCSV  = "csv"
	TypeXLSX = "xlsx"
)

var extTypes = map[string]string{
	".pdf":  TypePDF,
	".docx": TypeDOCX,
	".html": TypeHTML,
	".htm":  TypeHTML,
	".txt":  TypeTXT,
	".csv":  TypeCSV,
	".xlsx": TypeXLSX,
}

// Extensions of static files that are never accepted, so the request can be skipped.
var rejectedExts = map[string]bool{
	".doc": true, ".xls": true, ".ppt": true, ".pptx": true, ".rtf": true, ".odt": true, ".ods": true,
	".zip": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true, ".tar": true,
	".exe": true, ".msi": true, ".dmg": true, ".apk": true, ".iso": true, ".bin": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true, ".bmp": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wav": true, ".webm": true,
	".xml": true, ".json": true, ".epub": true,
}

var mediaTypes = map[string]string{
	"application/pdf":       TypePDF,
	"application/x-pdf":     TypePDF,
	"text/html":             TypeHTML,
	"application/xhtml+xml": TypeHTML,
	"text/plain":            TypeTXT,
	"text/csv":              TypeCSV,
	"application/csv":       TypeCSV,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": TypeDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       TypeXLSX,
}

// TypeFromURL classifies rawURL by its path extension. rejected is true when the
// extension names a file type that is never accepted.
func TypeFromURL(rawURL string) (fileType string, rejected bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if t, ok := extTypes[ext]; ok {
		return t, false
	}
	return "", rejectedExts[ext]
}

// TypeFromContentType classifies a Content-Type header value.
func TypeFromContentType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mediaTypes[strings.ToLower(mt)]
}

// Extension returns the file extension, with dot, written for fileType.
func Extension(fileType string) string {
	if fileType == "" {
		return ""
	}
	return "." + fileType
}
