package service

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xxxsen/quitachat/internal/model"
)

const (
	placeholderDate    = "{{CURRENT_DATE}}"
	placeholderContext = "{{CONTEXT}}"

	// noDocumentsMarker fills the context slot when retrieval found nothing,
	// so the model takes its "not found" branch instead of improvising.
	noDocumentsMarker = "(nenhum documento oficial relevante foi encontrado para esta pergunta)"
)

//go:embed prompts/system_prompt.md
var defaultSystemPrompt string

// PromptBuilder renders the grounding system prompt.
type PromptBuilder struct {
	template string
}

func NewPromptBuilder(template string) (*PromptBuilder, error) {
	if !strings.Contains(template, placeholderContext) {
		return nil, fmt.Errorf("system prompt must contain %s", placeholderContext)
	}
	return &PromptBuilder{template: template}, nil
}

// LoadPromptBuilder reads the template at path, or uses the built-in one
// when path is empty.
func LoadPromptBuilder(path string) (*PromptBuilder, error) {
	if strings.TrimSpace(path) == "" {
		return NewPromptBuilder(defaultSystemPrompt)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	return NewPromptBuilder(string(raw))
}

func (b *PromptBuilder) Build(now time.Time, chunks []model.Chunk) string {
	return strings.NewReplacer(
		placeholderContext, renderContext(chunks),
		placeholderDate, now.Format("02/01/2006"),
	).Replace(b.template)
}

func renderContext(chunks []model.Chunk) string {
	if len(chunks) == 0 {
		return noDocumentsMarker
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	return strings.Join(parts, "\n\n")
}
