package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ClassificationTag is the payload embedded in a QR code or a PDF subject.
type ClassificationTag struct {
	Type       string `json:"t"`
	EmployeeID string `json:"eid"`
	Date       string `json:"d,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Usable reports whether the tag carries enough to auto-assign.
func (t ClassificationTag) Usable() bool {
	return strings.TrimSpace(t.Type) != "" && strings.TrimSpace(t.EmployeeID) != ""
}

// ParseClassificationTag decodes a JSON payload into a tag.
func ParseClassificationTag(raw string) (ClassificationTag, error) {
	var tag ClassificationTag
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &tag); err != nil {
		return ClassificationTag{}, err
	}
	tag.Type = strings.TrimSpace(tag.Type)
	tag.EmployeeID = strings.TrimSpace(tag.EmployeeID)
	return tag, nil
}

// DateOr returns the tag date when parseable, otherwise fallback.
func (t ClassificationTag) DateOr(fallback time.Time) time.Time {
	raw := strings.TrimSpace(t.Date)
	if raw == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed
		}
	}
	return fallback
}

type TagOutcome int

const (
	NoTag TagOutcome = iota
	TagFound
	MalformedSource
)

func (o TagOutcome) String() string {
	switch o {
	case TagFound:
		return "tag_found"
	case MalformedSource:
		return "malformed_source"
	default:
		return "no_tag"
	}
}

// TagResult is the outcome of looking for an embedded classification tag.
// Tag is only meaningful when Outcome is TagFound; Reason explains a
// MalformedSource result.
type TagResult struct {
	Outcome TagOutcome
	Tag     ClassificationTag
	Reason  string
}

func FoundTag(tag ClassificationTag) TagResult {
	return TagResult{Outcome: TagFound, Tag: tag}
}

func NoTagResult() TagResult {
	return TagResult{Outcome: NoTag}
}

func MalformedResult(reason string) TagResult {
	return TagResult{Outcome: MalformedSource, Reason: reason}
}

// Extraction bundles everything recovered from a file before upload.
type Extraction struct {
	Tag       TagResult
	Text      string
	OCRStatus OCRStatus
}
