package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/developer-mesh/translation-gateway/internal/translator"
)

// TranslateRequest is the body of the single translation endpoints
type TranslateRequest struct {
	Text     string `json:"text" binding:"required"`
	FromLang string `json:"from_lang"`
	ToLang   string `json:"to_lang"`
	FontSize string `json:"font_size"`
	UseCache *bool  `json:"use_cache"`
}

// TargetRequest is the body of the single-target shortcut
type TargetRequest struct {
	Text     string `json:"text" binding:"required"`
	FontSize string `json:"font_size"`
}

// BatchItemInput accepts either a bare string or an object with text and id
type BatchItemInput struct {
	Text string
	ID   string
}

// UnmarshalJSON implements json.Unmarshaler
func (b *BatchItemInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &b.Text)
	}

	var obj struct {
		Text string          `json:"text"`
		ID   json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("batch item must be a string or an object with text: %w", err)
	}
	b.Text = obj.Text
	b.ID = ""

	if len(obj.ID) == 0 || string(obj.ID) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(obj.ID, &id); err == nil {
		b.ID = id
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(obj.ID, &n); err != nil {
		return fmt.Errorf("batch item id must be a string or a number: %w", err)
	}
	b.ID = n.String()
	return nil
}

// BatchRequest is the body of the batch endpoint
type BatchRequest struct {
	Items         []BatchItemInput `json:"items" binding:"required"`
	FromLang      string           `json:"from_lang"`
	ToLang        string           `json:"to_lang"`
	UseCache      *bool            `json:"use_cache"`
	FontSize      string           `json:"font_size"`
	MaxConcurrent int              `json:"max_concurrent"`
}

// normalize converts inputs into core batch items; missing ids become positions
func (r BatchRequest) normalize() []translator.BatchItem {
	items := make([]translator.BatchItem, len(r.Items))
	for i, in := range r.Items {
		id := in.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		items[i] = translator.BatchItem{Text: in.Text, ID: id}
	}
	return items
}

// TextsRequest is the body of the text producer endpoint
type TextsRequest struct {
	Texts    []string `json:"texts" binding:"required"`
	FromLang string   `json:"from_lang"`
	ToLang   string   `json:"to_lang"`
}

// TextsResponse maps each source text to its translation
type TextsResponse struct {
	Translations map[string]string `json:"translations"`
	Total        int               `json:"total"`
	Error        string            `json:"error,omitempty"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
