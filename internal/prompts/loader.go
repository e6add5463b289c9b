// Package prompts holds the system prompt of every pipeline capability.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed *.md
var promptFS embed.FS

// Prompt names, one per capability.
const (
	Generator   = "generator"
	Judge       = "judge"
	Planner     = "planner"
	Implementer = "implementer"
	Reviewer    = "reviewer"
)

// PromptTemplate represents a prompt template with metadata
type PromptTemplate struct {
	Name    string
	Content string
	Source  string // "embedded" or the override file path
}

// PromptLoader handles loading and rendering prompt templates
type PromptLoader struct {
	templates map[string]*PromptTemplate
}

// NewPromptLoader loads the embedded templates. Markdown files in
// overrideDir, when set, replace the embedded template of the same name.
func NewPromptLoader(overrideDir string) (*PromptLoader, error) {
	loader := &PromptLoader{
		templates: make(map[string]*PromptTemplate),
	}

	if err := loader.loadEmbedded(); err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	if overrideDir != "" {
		if err := loader.loadOverrides(overrideDir); err != nil {
			return nil, fmt.Errorf("failed to load prompt overrides: %w", err)
		}
	}

	return loader, nil
}

func (p *PromptLoader) loadEmbedded() error {
	entries, err := promptFS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("failed to read prompts directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := promptFS.ReadFile(entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %w", entry.Name(), err)
		}
		p.add(entry.Name(), string(content), "embedded")
	}
	return nil
}

func (p *PromptLoader) loadOverrides(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %w", path, err)
		}
		p.add(filepath.Base(path), string(content), path)
	}
	return nil
}

func (p *PromptLoader) add(fileName, content, source string) {
	name := strings.TrimSuffix(fileName, ".md")
	p.templates[name] = &PromptTemplate{
		Name:    name,
		Content: strings.TrimSpace(content),
		Source:  source,
	}
}

// GetPrompt returns a prompt template by name
func (p *PromptLoader) GetPrompt(name string) (*PromptTemplate, error) {
	template, exists := p.templates[name]
	if !exists {
		return nil, fmt.Errorf("prompt template '%s' not found", name)
	}
	return template, nil
}

// RenderPrompt renders a prompt template with {{Key}} substitution
func (p *PromptLoader) RenderPrompt(name string, variables map[string]string) (string, error) {
	template, err := p.GetPrompt(name)
	if err != nil {
		return "", err
	}

	content := template.Content
	for key, value := range variables {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content, nil
}

// ListPrompts returns all available prompt template names, sorted
func (p *PromptLoader) ListPrompts() []string {
	names := make([]string, 0, len(p.templates))
	for name := range p.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
