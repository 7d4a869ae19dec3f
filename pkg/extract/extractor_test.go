package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"docmind/pkg/domain"
)

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	doc := `<?xml version="1.0"?><w:document><w:body>` +
		`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve">world</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second &amp; paragraph</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	data := buildDOCX(t, doc)

	ex := New(nil, "")
	res, err := ex.Extract(context.Background(), data, "docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "Hello") || !strings.Contains(res.Text, "world") {
		t.Errorf("missing run text: %q", res.Text)
	}
	if !strings.Contains(res.Text, "Second & paragraph") {
		t.Errorf("entity not unescaped: %q", res.Text)
	}
}

func TestExtractDOCXNotAZip(t *testing.T) {
	ex := New(nil, "")
	_, err := ex.Extract(context.Background(), []byte("definitely not a zip"), "docx")
	if err == nil {
		t.Fatal("expected error for invalid docx")
	}
	if domain.KindOf(err) != domain.ErrKindExtraction {
		t.Errorf("kind = %v, want extraction", domain.KindOf(err))
	}
}

func TestExtractPlainText(t *testing.T) {
	ex := New(nil, "")
	data := []byte("\xef\xbb\xbfplain \x00content here")
	res, err := ex.Extract(context.Background(), data, "TXT")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.ContainsRune(res.Text, '\x00') {
		t.Errorf("NUL survived: %q", res.Text)
	}
	if !strings.HasPrefix(res.Text, "plain") {
		t.Errorf("BOM not stripped: %q", res.Text)
	}
}

func TestExtractHTML(t *testing.T) {
	ex := New(nil, "")
	data := []byte(`<html><head><style>p{color:red}</style><script>var x=1;</script></head>` +
		`<body><p>First paragraph.</p><p>Second paragraph.</p></body></html>`)
	res, err := ex.Extract(context.Background(), data, "html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "First paragraph.") || !strings.Contains(res.Text, "Second paragraph.") {
		t.Errorf("missing body text: %q", res.Text)
	}
	if strings.Contains(res.Text, "color:red") || strings.Contains(res.Text, "var x") {
		t.Errorf("style/script leaked: %q", res.Text)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	ex := New(nil, "")
	_, err := ex.Extract(context.Background(), []byte("data"), "xlsx")
	if domain.KindOf(err) != domain.ErrKindUnsupportedType {
		t.Fatalf("kind = %v, want unsupported_type", domain.KindOf(err))
	}
}

func TestExtractImageWithoutOCR(t *testing.T) {
	ex := New(nil, "")
	_, err := ex.Extract(context.Background(), []byte{0x89, 0x50}, "png")
	if domain.KindOf(err) != domain.ErrKindUnsupportedType {
		t.Fatalf("kind = %v, want unsupported_type", domain.KindOf(err))
	}
}

type fakeOCR struct {
	text string
	conf float64
}

func (f fakeOCR) Recognize(ctx context.Context, image []byte, lang string) (OCRResult, error) {
	return OCRResult{Text: f.text, Confidence: f.conf}, nil
}

func TestExtractImageWithOCR(t *testing.T) {
	ex := New(fakeOCR{text: "scanned words", conf: 92.5}, "eng")
	res, err := ex.Extract(context.Background(), []byte{0x89, 0x50}, ".PNG")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "scanned words" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Confidence != 92.5 {
		t.Errorf("confidence = %v", res.Confidence)
	}
}
