package records

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads records from a YAML document on every call, so edits to the
// file are picked up without a restart.
//
//	providers:
//	  - id: p1
//	    code: openai
//	    base_url: https://api.openai.com/v1
//	    auth_type: bearer
//	models:
//	  - id: m1
//	    provider_id: p1
//	    model_id: gpt-4o-mini
//	    endpoint: /chat/completions
//	    content_path: choices[0].message.content
//	agents:
//	  - id: a1
//	    name: Helper
//	    instructions: You are concise.
//	    model_id: m1
type FileSource struct {
	path string
}

type fileDocument struct {
	Agents    []Agent    `yaml:"agents"`
	Models    []Model    `yaml:"models"`
	Providers []Provider `yaml:"providers"`
}

// NewFileSource creates a source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) load() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file '%s': %w", s.path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse records file '%s': %w", s.path, err)
	}
	return &doc, nil
}

func (s *FileSource) ListAgents(_ context.Context) ([]Agent, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Agents, nil
}

func (s *FileSource) ListModels(_ context.Context) ([]Model, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Models, nil
}

func (s *FileSource) ListProviders(_ context.Context) ([]Provider, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Providers, nil
}

var _ Source = (*FileSource)(nil)
