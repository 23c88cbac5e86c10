package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadSuite reads and parses a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	return ParseSuite(data, path)
}

// ParseSuite parses suite data.
//
// The format is determined by the file extension in path: .json is JSON,
// everything else is YAML. The document is checked against the suite schema,
// decoded, completed with defaults and validated.
func ParseSuite(data []byte, path string) (*Suite, error) {
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")

	var raw interface{}
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON suite: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML suite: %w", err)
		}
		doc, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML suite: %w", err)
		}
		raw = doc
	}

	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	var suite Suite
	if isJSON {
		if err := json.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("failed to decode JSON suite: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("failed to decode YAML suite: %w", err)
		}
	}

	suite.ApplyDefaults()
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	return &suite, nil
}
