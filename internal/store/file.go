package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/patrykstefanski/async-bench/internal/model"
)

// File is the layout of a results file.
type File struct {
	Suite   string          `json:"suite,omitempty"`
	Results []*model.Result `json:"results"`
}

// WriteJSON writes results to path as an indented results file.
func WriteJSON(path, suite string, results []*model.Result) error {
	if results == nil {
		results = []*model.Result{}
	}

	data, err := json.MarshalIndent(File{Suite: suite, Results: results}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results file: %w", err)
	}
	return nil
}

// ReadJSON reads a results file written by WriteJSON.
func ReadJSON(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse results file %s: %w", path, err)
	}
	return &f, nil
}
