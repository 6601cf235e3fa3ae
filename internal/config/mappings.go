package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

type mappingSeedFile struct {
	Mappings []domain.FileMapping `yaml:"mappings"`
}

// LoadMappingSeed returns the seed mappings from a YAML file, or the
// built-in defaults when path is empty.
func LoadMappingSeed(path string) ([]domain.FileMapping, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultFileMappings(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping seed: %w", err)
	}

	var file mappingSeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse mapping seed %s: %w", path, err)
	}
	out := make([]domain.FileMapping, 0, len(file.Mappings))
	seen := make(map[string]struct{}, len(file.Mappings))
	for i, m := range file.Mappings {
		qrType := strings.TrimSpace(m.QRType)
		if qrType == "" || strings.TrimSpace(m.Category) == "" || strings.TrimSpace(m.NamePattern) == "" {
			return nil, fmt.Errorf("mapping seed entry %d: qr_type, category and name_pattern are required", i)
		}
		if _, dup := seen[qrType]; dup {
			return nil, fmt.Errorf("mapping seed entry %d: duplicate qr_type %q", i, qrType)
		}
		seen[qrType] = struct{}{}
		out = append(out, domain.FileMapping{
			QRType:      qrType,
			Category:    strings.TrimSpace(m.Category),
			NamePattern: m.NamePattern,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mapping seed %s has no mappings", path)
	}
	return out, nil
}
