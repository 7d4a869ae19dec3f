package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const docxDocumentPath = "word/document.xml"

// wtTag matches <w:t>text</w:t> including variants carrying attributes such
// as xml:space="preserve". Matching the text nodes directly keeps extraction
// robust against run and paragraph attributes.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

var wpClose = regexp.MustCompile(`</w:p>`)

// extractDOCX reads the main OOXML document body out of the zip container
// and joins its text nodes, inserting newlines at paragraph ends.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: not a zip: %w", err)
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docxDocumentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("%s not found in docx", docxDocumentPath)
	}

	// Paragraph closes become newlines so sentence boundaries survive for
	// the chunker.
	body := wpClose.ReplaceAllString(string(docXML), "\n")
	matches := wtTag.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no text content in docx")
	}
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(xmlUnescape(m[1]))
	}
	return strings.TrimSpace(sb.String()), nil
}

var xmlEscapes = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func xmlUnescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return xmlEscapes.Replace(s)
}
