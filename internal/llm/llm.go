package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rgoodman/agentcal/internal/models"
)

// SuggestedRule holds a single drafted scoring rule.
type SuggestedRule struct {
	Rule      string `json:"rule"`
	Rationale string `json:"rationale"`
}

// Client wraps the Anthropic API for criteria drafting.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildSuggestPrompt constructs the system and user prompts for rule drafting.
func buildSuggestPrompt(metric, description string, rejectionNotes []string) (system string, user string) {
	system = fmt.Sprintf(`You draft scoring criteria for evaluating LLM agent outputs. Return ONLY a JSON array of at most %d objects with these fields:
- "rule": one concrete, checkable criterion for the given metric, phrased as a single imperative sentence
- "rationale": one sentence on what failure mode the rule catches

Rules:
- Each rule must be independently checkable against a single agent response
- Prefer rules grounded in the reviewer rejection notes when notes are provided
- Never restate the agent description; derive criteria from it
- No duplicates or near-duplicates
- Return valid JSON only, no markdown fencing or explanation`, models.MaxRulesPerMetric)

	var sb strings.Builder
	sb.WriteString("Metric: ")
	sb.WriteString(metric)
	sb.WriteString("\n\nAgent description:\n")
	sb.WriteString(description)
	sb.WriteString("\n")
	if len(rejectionNotes) > 0 {
		sb.WriteString("\nReviewer rejection notes from recent calibration:\n")
		for _, note := range rejectionNotes {
			sb.WriteString("- ")
			sb.WriteString(note)
			sb.WriteString("\n")
		}
	}
	user = sb.String()
	return
}

// SuggestRules asks the LLM to draft scoring rules for a metric.
func (c *Client) SuggestRules(ctx context.Context, metric, description string, rejectionNotes []string) ([]SuggestedRule, error) {
	systemPrompt, userPrompt := buildSuggestPrompt(metric, description, rejectionNotes)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var rules []SuggestedRule
	if err := json.Unmarshal([]byte(text), &rules); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	if len(rules) > models.MaxRulesPerMetric {
		rules = rules[:models.MaxRulesPerMetric]
	}
	return rules, nil
}
