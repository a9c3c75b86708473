package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crmsync/internal/model"
)

// FileAnalyzer returns a prepared analysis read from a YAML or JSON file,
// for running without a language model.
type FileAnalyzer struct {
	Path string
}

// Analyze implements Analyzer. The text and date are ignored.
func (f FileAnalyzer) Analyze(_ context.Context, _ string, _ time.Time) (*Analysis, error) {
	data, err := readDocument(f.Path)
	if err != nil {
		return nil, err
	}
	return Validate(data)
}

// LoadEntities reads StructuredEntities from a YAML or JSON file and
// validates them.
func LoadEntities(path string) (*model.StructuredEntities, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewExtractionError("read entities file", err)
	}
	var ents model.StructuredEntities
	if err := yaml.Unmarshal(raw, &ents); err != nil {
		return nil, model.NewExtractionError(fmt.Sprintf("parse entities file %s", path), err)
	}
	if err := ents.Validate(); err != nil {
		return nil, err
	}
	return &ents, nil
}

// StaticExtractor returns the same entities for every resource.
type StaticExtractor struct {
	Entities *model.StructuredEntities
}

// Extract implements engine.Extractor.
func (s StaticExtractor) Extract(_ context.Context, _ model.Resource) (*model.StructuredEntities, error) {
	if s.Entities == nil {
		return nil, model.NewExtractionError("no entities configured", nil)
	}
	out := *s.Entities
	return &out, nil
}

// readDocument loads a YAML or JSON file and re-encodes it as JSON.
// YAML is a superset of JSON, so one decoder handles both.
func readDocument(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewExtractionError("read analysis file", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, model.NewExtractionError(fmt.Sprintf("parse analysis file %s", path), err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, model.NewExtractionError(fmt.Sprintf("encode analysis file %s", path), err)
	}
	return data, nil
}
