package extractor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

// Extractor dispatches by extension: PDFs yield their Info subject and
// text layer, images yield a QR payload and OCR text.
type Extractor struct {
	ocr ports.OCREngine
}

// New builds an extractor. A nil OCR engine disables OCR.
func New(ocr ports.OCREngine) *Extractor {
	return &Extractor{ocr: ocr}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) domain.Extraction {
	switch {
	case domain.IsPDFExtension(filename):
		return e.extractPDF(filename, data)
	case domain.IsImageExtension(filename):
		return e.extractImage(ctx, filename, data)
	default:
		slog.Info("extract_unsupported_extension", "filename", filename, "ext", strings.ToLower(filepath.Ext(filename)))
		return domain.Extraction{Tag: domain.NoTagResult(), OCRStatus: domain.OCRStatusPending}
	}
}

func (e *Extractor) extractPDF(filename string, data []byte) domain.Extraction {
	out := domain.Extraction{Tag: pdfSubjectTag(data), OCRStatus: domain.OCRStatusPending}

	text, err := pdfText(data)
	if err != nil {
		slog.Info("extract_pdf_text_unavailable", "filename", filename, "error", err)
	}
	if text != "" {
		out.Text = text
		out.OCRStatus = domain.OCRStatusCompleted
	}
	return out
}

func (e *Extractor) extractImage(ctx context.Context, filename string, data []byte) domain.Extraction {
	out := domain.Extraction{Tag: qrTag(data), OCRStatus: domain.OCRStatusPending}
	if e.ocr == nil {
		return out
	}

	text, err := e.ocr.RecognizeText(ctx, data, domain.ContentTypeByExtension(filename))
	if err != nil {
		slog.Warn("extract_ocr_failed", "filename", filename, "error", err)
		return out
	}
	text = strings.TrimSpace(text)
	if text != "" {
		out.Text = text
		out.OCRStatus = domain.OCRStatusCompleted
	}
	return out
}

// tagFromPayload turns a raw embedded string into a tag result.
func tagFromPayload(raw string) domain.TagResult {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.NoTagResult()
	}
	tag, err := domain.ParseClassificationTag(raw)
	if err != nil {
		return domain.MalformedResult("payload is not JSON: " + err.Error())
	}
	if tag.Type == "" && tag.EmployeeID == "" {
		return domain.MalformedResult("payload has no t/eid fields")
	}
	return domain.FoundTag(tag)
}
