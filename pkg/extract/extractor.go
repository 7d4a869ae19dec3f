// Package extract converts raw file buffers into plain text, dispatching by
// declared file type to the PDF parser, the DOCX reader, the OCR engine, or
// a plain-text pass-through.
package extract

import (
	"context"
	"log/slog"
	"strings"

	"docmind/pkg/domain"
)

// Result carries the extracted text plus format-specific side data.
type Result struct {
	Text string
	// PageCount is set for PDF input, zero otherwise.
	PageCount int
	// Confidence is the OCR engine's recognition confidence (0-100) for
	// image input, zero otherwise. Advisory only.
	Confidence float64
}

// OCREngine recognizes text in an image. Implementations are expected to be
// remote services; both inputs are advisory.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, lang string) (OCRResult, error)
}

// OCRResult is the raw engine output for one image.
type OCRResult struct {
	Text       string
	Confidence float64
}

// Extractor dispatches extraction by declared file type. Each branch is
// independently swappable.
type Extractor struct {
	ocr     OCREngine
	ocrLang string
}

// New builds an extractor. ocr may be nil, in which case image types are
// reported as unsupported.
func New(ocr OCREngine, ocrLang string) *Extractor {
	if strings.TrimSpace(ocrLang) == "" {
		ocrLang = "eng"
	}
	return &Extractor{ocr: ocr, ocrLang: ocrLang}
}

// Extract returns the plain text of data according to the declared file
// type. Unrecognized types yield an unsupported_type error; engine failures
// yield an extraction error. Minimum-viable-length enforcement is the
// caller's job.
func (e *Extractor) Extract(ctx context.Context, data []byte, fileType string) (Result, error) {
	fileType = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(fileType, ".")))
	slog.Debug("extracting text", "fileType", fileType, "size", len(data))

	switch fileType {
	case "pdf":
		text, pages, err := extractPDF(data)
		if err != nil {
			return Result{}, domain.Wrap(domain.ErrKindExtraction, "extract pdf", err)
		}
		return Result{Text: text, PageCount: pages}, nil
	case "docx":
		text, err := extractDOCX(data)
		if err != nil {
			return Result{}, domain.Wrap(domain.ErrKindExtraction, "extract docx", err)
		}
		return Result{Text: text}, nil
	case "png", "jpg", "jpeg":
		if e.ocr == nil {
			return Result{}, domain.Ef(domain.ErrKindUnsupportedType, "ocr engine not configured for file type %q", fileType)
		}
		res, err := e.ocr.Recognize(ctx, data, e.ocrLang)
		if err != nil {
			return Result{}, domain.Wrap(domain.ErrKindExtraction, "ocr recognize", err)
		}
		return Result{Text: res.Text, Confidence: res.Confidence}, nil
	case "html", "htm":
		text, err := extractHTML(data)
		if err != nil {
			return Result{}, domain.Wrap(domain.ErrKindExtraction, "extract html", err)
		}
		return Result{Text: text}, nil
	case "txt", "md":
		return Result{Text: extractPlain(data)}, nil
	default:
		return Result{}, domain.Ef(domain.ErrKindUnsupportedType, "unsupported file type: %q", fileType)
	}
}

// extractPlain normalizes encoding for plain-text input: strips a UTF-8
// BOM, replaces invalid sequences, drops NUL bytes.
func extractPlain(data []byte) string {
	text := strings.TrimPrefix(string(data), "\uFEFF")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\x00", " ")
	return strings.TrimSpace(text)
}
