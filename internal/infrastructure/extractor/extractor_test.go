package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

type ocrFake struct {
	text  string
	err   error
	calls int
}

func (f *ocrFake) RecognizeText(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

func qrPNG(t *testing.T, content string) []byte {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(content, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, matrix); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// minimalPDF writes a one-page document whose Info dictionary carries subject.
func minimalPDF(subject string) []byte {
	content := "BT /F1 12 Tf 72 712 Td (Hola) Tj ET"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Subject (%s) /Producer (test) >>", escapePDFString(subject)),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 6 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func escapePDFString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}

func TestExtractImageWithQRTag(t *testing.T) {
	ocr := &ocrFake{text: "  nómina marzo  "}
	e := New(ocr)

	out := e.Extract(context.Background(), "scan.png", qrPNG(t, `{"t":"PAYROLL_SIGNED","eid":"E42","d":"2024-03-01"}`))
	if out.Tag.Outcome != domain.TagFound {
		t.Fatalf("expected tag found, got %s (%s)", out.Tag.Outcome, out.Tag.Reason)
	}
	if out.Tag.Tag.Type != "PAYROLL_SIGNED" || out.Tag.Tag.EmployeeID != "E42" {
		t.Fatalf("unexpected tag: %+v", out.Tag.Tag)
	}
	if out.OCRStatus != domain.OCRStatusCompleted || out.Text != "nómina marzo" {
		t.Fatalf("unexpected ocr result: %q %s", out.Text, out.OCRStatus)
	}
	if ocr.calls != 1 {
		t.Fatalf("expected one OCR call, got %d", ocr.calls)
	}
}

func TestExtractImageWithoutQR(t *testing.T) {
	e := New(nil)

	out := e.Extract(context.Background(), "random.png", blankPNG(t))
	if out.Tag.Outcome != domain.NoTag {
		t.Fatalf("expected no tag, got %s (%s)", out.Tag.Outcome, out.Tag.Reason)
	}
	if out.OCRStatus != domain.OCRStatusPending {
		t.Fatalf("expected pending OCR, got %s", out.OCRStatus)
	}
}

func TestExtractImageQRNotJSON(t *testing.T) {
	e := New(nil)

	out := e.Extract(context.Background(), "scan.png", qrPNG(t, "https://example.com/not-a-tag"))
	if out.Tag.Outcome != domain.MalformedSource {
		t.Fatalf("expected malformed source, got %s", out.Tag.Outcome)
	}
}

func TestExtractImageOCRFailureIsNotFatal(t *testing.T) {
	e := New(&ocrFake{err: errors.New("ollama down")})

	out := e.Extract(context.Background(), "scan.png", qrPNG(t, `{"t":"CONTRACT","eid":"E1"}`))
	if out.Tag.Outcome != domain.TagFound {
		t.Fatalf("expected tag found, got %s", out.Tag.Outcome)
	}
	if out.OCRStatus != domain.OCRStatusPending || out.Text != "" {
		t.Fatalf("expected pending OCR without text, got %q %s", out.Text, out.OCRStatus)
	}
}

func TestExtractCorruptImage(t *testing.T) {
	e := New(nil)

	out := e.Extract(context.Background(), "broken.jpg", []byte("definitely not a jpeg"))
	if out.Tag.Outcome != domain.MalformedSource {
		t.Fatalf("expected malformed source, got %s", out.Tag.Outcome)
	}
}

func TestExtractPDFSubjectTag(t *testing.T) {
	e := New(nil)

	out := e.Extract(context.Background(), "contract.pdf", minimalPDF(`{"t":"CONTRACT","eid":"E7","name":"Contrato"}`))
	if out.Tag.Outcome != domain.TagFound {
		t.Fatalf("expected tag found, got %s (%s)", out.Tag.Outcome, out.Tag.Reason)
	}
	if out.Tag.Tag.EmployeeID != "E7" || out.Tag.Tag.Name != "Contrato" {
		t.Fatalf("unexpected tag: %+v", out.Tag.Tag)
	}
}

func TestExtractPDFWithoutSubject(t *testing.T) {
	e := New(nil)

	out := e.Extract(context.Background(), "plain.pdf", minimalPDF(""))
	if out.Tag.Outcome != domain.NoTag {
		t.Fatalf("expected no tag, got %s (%s)", out.Tag.Outcome, out.Tag.Reason)
	}
}

func TestExtractUnreadablePDF(t *testing.T) {
	e := New(nil)

	out := e.Extract(context.Background(), "broken.pdf", []byte("%PDF-1.4 garbage"))
	if out.Tag.Outcome != domain.MalformedSource {
		t.Fatalf("expected malformed source, got %s", out.Tag.Outcome)
	}
	if out.Text != "" || out.OCRStatus != domain.OCRStatusPending {
		t.Fatalf("expected no text, got %q %s", out.Text, out.OCRStatus)
	}
}

func TestExtractUnsupportedExtension(t *testing.T) {
	e := New(&ocrFake{text: "x"})

	out := e.Extract(context.Background(), "notes.docx", []byte("PK"))
	if out.Tag.Outcome != domain.NoTag {
		t.Fatalf("expected no tag, got %s", out.Tag.Outcome)
	}
}

func TestTagFromPayload(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.TagOutcome
	}{
		{raw: "", want: domain.NoTag},
		{raw: "   ", want: domain.NoTag},
		{raw: "{", want: domain.MalformedSource},
		{raw: `{"foo":"bar"}`, want: domain.MalformedSource},
		{raw: `{"t":"OTHER"}`, want: domain.TagFound},
		{raw: `{"t":"OTHER","eid":"E1"}`, want: domain.TagFound},
	}
	for _, tc := range cases {
		if got := tagFromPayload(tc.raw).Outcome; got != tc.want {
			t.Fatalf("tagFromPayload(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}
