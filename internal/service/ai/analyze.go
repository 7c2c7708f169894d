package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"filevault/internal/models"

	"github.com/cloudwego/eino/schema"
)

// AnalyzeText sends extracted text content to the chat model and decodes the
// structured metadata reply.
func (g *Gateway) AnalyzeText(ctx context.Context, content, filename, mediaType string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := textPrompt(content, filename, mediaType)
	resp, err := g.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return nil, fmt.Errorf("analyze text: %w", err)
	}
	return parseResult(resp.Content)
}

// AnalyzeImage sends the raw image bytes through the vision path of the chat
// model with an image-specific schema.
func (g *Gateway) AnalyzeImage(ctx context.Context, image []byte, mediaType, filename string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(image))
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      dataURL,
					MIMEType: mediaType,
				},
			},
			{
				Type: schema.ChatMessagePartTypeText,
				Text: imagePrompt(filename),
			},
		},
	}
	resp, err := g.chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	return parseResult(resp.Content)
}

func categoryList() string {
	data, _ := json.MarshalIndent(models.Categories, "", "  ")
	return string(data)
}

func textPrompt(content, filename, mediaType string) string {
	return fmt.Sprintf(`Analyze this file and extract structured metadata. The filename is %q and file type is %q.

Available categories (choose the MOST appropriate one):
%s

File content:
%s

Provide your analysis in the following JSON format:
{
  "category": "one of the categories from the list above",
  "subcategory": "more specific classification (optional)",
  "summary": "brief 2-3 sentence summary of the file's content and purpose",
  "tags": ["relevant", "searchable", "keywords", "up to 10"],
  "entities": {
    "people": ["names of people mentioned"],
    "organizations": ["companies, institutions mentioned"],
    "locations": ["places mentioned"],
    "dates": ["important dates in YYYY-MM-DD format if possible"]
  },
  "key_info": {
    "document_type": "specific type like invoice, contract, report, etc.",
    "amount": "any monetary amount if applicable",
    "date": "main document date if found",
    "parties": ["parties involved in contracts/agreements"]
  },
  "confidence_score": 0.0 to 1.0
}

IMPORTANT: Respond ONLY with valid JSON. Do not include any markdown formatting or explanations.`,
		filename, mediaType, categoryList(), content)
}

func imagePrompt(filename string) string {
	return fmt.Sprintf(`Analyze this image file (filename: %q) and extract structured metadata.

Available categories (choose the MOST appropriate one):
%s

Provide your analysis in JSON format:
{
  "category": "one of the categories from the list",
  "subcategory": "more specific classification",
  "summary": "describe what's in the image and its likely purpose",
  "tags": ["relevant", "keywords", "describing", "content"],
  "entities": {
    "people": ["if you can identify any text with names"],
    "organizations": ["any visible company names/logos"],
    "locations": ["any locations visible or mentioned"],
    "dates": ["any dates visible in the image"]
  },
  "key_info": {
    "image_type": "describe type (screenshot, receipt, document photo, diagram, etc.)",
    "text_detected": "any important text visible in the image",
    "contains_sensitive_info": true/false
  },
  "confidence_score": 0.0 to 1.0
}

Respond ONLY with valid JSON.`, filename, categoryList())
}

// parseResult decodes a model reply, tolerating markdown code fences around
// the JSON body.
func parseResult(raw string) (*Result, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			text = parts[1]
		}
		text = strings.TrimPrefix(strings.TrimSpace(text), "json")
		text = strings.TrimSpace(text)
	}

	var res Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return &res, nil
}
