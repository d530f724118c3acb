package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/biblioflow/backend/internal/domain"
)

const extractSystemPrompt = `You extract bibliographic references from the text of a scholarly document.
Return ONLY a JSON array. Each element is an object with these keys:
"title" (string, required), "authors" (array of strings, "First Last" form),
"year" (integer or null), "doi" (string or null), "source" (journal or book title, string or null),
"volume", "issue", "pages", "publisher" (strings or null).
Do not invent identifiers. Omit entries whose title you cannot determine. No prose, no markdown fences.`

// extractedRef mirrors the JSON object shape the model is instructed to
// emit.
type extractedRef struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Year      *int     `json:"year"`
	DOI       string   `json:"doi"`
	Source    string   `json:"source"`
	Volume    string   `json:"volume"`
	Issue     string   `json:"issue"`
	Pages     string   `json:"pages"`
	Publisher string   `json:"publisher"`
}

// Extractor sends bibliography text to an OpenAI-compatible chat model and
// parses the returned reference array. The provider never influences
// dedup; extracted rows go through the resolver like any other candidate.
type Extractor struct {
	client *openai.Client
	model  string
}

// NewExtractor builds an extractor. baseURL may point at any
// OpenAI-compatible endpoint; empty means api.openai.com.
func NewExtractor(apiKey, baseURL, model string) *Extractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Extractor{client: openai.NewClientWithConfig(cfg), model: model}
}

// ExtractReferences asks the model for the reference list of the given
// bibliography text.
func (e *Extractor) ExtractReferences(ctx context.Context, text string) ([]*domain.Reference, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return parseModelOutput(resp.Choices[0].Message.Content)
}

// parseModelOutput decodes the model's JSON array, tolerating markdown
// fences some models add despite instructions.
func parseModelOutput(content string) ([]*domain.Reference, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Some models wrap the array in prose; recover the outermost array.
	if !strings.HasPrefix(content, "[") {
		start := strings.Index(content, "[")
		end := strings.LastIndex(content, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("model output is not a JSON array")
		}
		content = content[start : end+1]
	}

	var extracted []extractedRef
	if err := json.Unmarshal([]byte(content), &extracted); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}

	refs := make([]*domain.Reference, 0, len(extracted))
	for _, ex := range extracted {
		if strings.TrimSpace(ex.Title) == "" && ex.DOI == "" {
			continue
		}
		refs = append(refs, &domain.Reference{
			Title:     strings.TrimSpace(ex.Title),
			Authors:   ex.Authors,
			Year:      ex.Year,
			DOI:       ex.DOI,
			Source:    ex.Source,
			Volume:    ex.Volume,
			Issue:     ex.Issue,
			Pages:     ex.Pages,
			Publisher: ex.Publisher,
		})
	}
	return refs, nil
}
