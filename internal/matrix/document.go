package matrix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/loanpricer/internal/domain"
)

// Decode parses a matrix document. JSON is detected by a leading '{';
// anything else is read as YAML.
func Decode(data []byte) (*domain.PricingMatrix, error) {
	var m domain.PricingMatrix

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
		}
		return &m, nil
	}

	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}
	return &m, nil
}

// LoadFile reads and decodes a matrix document from disk.
func LoadFile(path string) (*domain.PricingMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var m domain.PricingMatrix
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMatrix, path, err)
		}
		return &m, nil
	case ".yaml", ".yml":
		var m domain.PricingMatrix
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMatrix, path, err)
		}
		return &m, nil
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
