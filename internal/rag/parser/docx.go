package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// ParseDocx extracts paragraph text from a DOCX payload. The payload must
// be a valid ZIP archive carrying [Content_Types].xml and word/document.xml.
func ParseDocx(raw []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", parseError("not a ZIP archive: %v", err)
	}
	if !hasFile(reader, "[Content_Types].xml") {
		return "", parseError("missing [Content_Types].xml, not a DOCX container")
	}

	content, err := readArchiveFile(reader, "word/document.xml")
	if err != nil {
		return "", err
	}

	text, err := extractParagraphs(content)
	if err != nil {
		return "", parseError("malformed word/document.xml: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", parseError("DOCX contains no extractable text")
	}
	return text, nil
}

func hasFile(reader *zip.Reader, name string) bool {
	for _, f := range reader.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

func readArchiveFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, f := range reader.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, parseError("open %s: %v", name, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, parseError("read %s: %v", name, err)
		}
		return content, nil
	}
	return nil, parseError("missing %s", name)
}

// documentXML mirrors the subset of the WordprocessingML schema we need:
// body paragraphs, their runs and the text elements inside them.
type documentXML struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func extractParagraphs(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, run := range para.Runs {
			for _, text := range run.Text {
				b.WriteString(text.Content)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
