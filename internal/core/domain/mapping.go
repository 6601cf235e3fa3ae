package domain

import (
	"strings"
	"time"
)

const (
	FallbackCategory      = "Otros"
	fallbackNamePattern   = "Documento {date}"
	placeholderDate       = "{date}"
	placeholderName       = "{name}"
	placeholderDateLayout = "2006-01-02"
)

// FileMapping associates a classification tag type with an archive
// category and a document name template.
type FileMapping struct {
	QRType      string `json:"qr_type" yaml:"qr_type"`
	Category    string `json:"category" yaml:"category"`
	NamePattern string `json:"name_pattern" yaml:"name_pattern"`
}

func DefaultFileMappings() []FileMapping {
	return []FileMapping{
		{QRType: "ABSENCE_JUSTIFICATION", Category: "Ausencias", NamePattern: "Justificante ausencia {date}"},
		{QRType: "PPE_DELIVERY", Category: "EPIs", NamePattern: "Entrega EPIs {date}"},
		{QRType: "UNIFORM_DELIVERY", Category: "Uniformidad", NamePattern: "Entrega uniforme {date}"},
		{QRType: "DEVICE_HANDOVER", Category: "Dispositivos", NamePattern: "Entrega dispositivo {name} {date}"},
		{QRType: "TAX_FORM_SIGNED", Category: "Fiscal", NamePattern: "Modelo 145 firmado {date}"},
		{QRType: "PAYROLL_SIGNED", Category: "Nómina", NamePattern: "Nómina firmada {date}"},
	}
}

// Placement is the resolved archive destination for a tagged document.
type Placement struct {
	Category string
	Name     string
	Known    bool
}

// ResolvePlacement renders the mapping for tag. A nil mapping yields the
// fallback category.
func ResolvePlacement(mapping *FileMapping, tag ClassificationTag, now time.Time) Placement {
	date := tag.DateOr(now).UTC().Format(placeholderDateLayout)
	if mapping == nil {
		return Placement{
			Category: FallbackCategory,
			Name:     RenderNamePattern(fallbackNamePattern, date, tag.Name),
		}
	}
	return Placement{
		Category: mapping.Category,
		Name:     RenderNamePattern(mapping.NamePattern, date, tag.Name),
		Known:    true,
	}
}

// RenderNamePattern substitutes placeholders and collapses the whitespace
// left behind by an empty secondary attribute.
func RenderNamePattern(pattern, date, name string) string {
	out := strings.ReplaceAll(pattern, placeholderDate, date)
	out = strings.ReplaceAll(out, placeholderName, strings.TrimSpace(name))
	return strings.Join(strings.Fields(out), " ")
}
