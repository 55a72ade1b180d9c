package translator

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// KeyPrefix namespaces translation cache keys
const KeyPrefix = "trans:"

// Key derives the translation key from the normalized text and language pair.
// It identifies both a cache entry and a coalescing group.
func Key(text, from, to string) string {
	sum := md5.Sum([]byte(from + ":" + to + ":" + strings.TrimSpace(text)))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// CachedTranslation is the payload written to the cache. It has
// no room for caller hints, item ids or positions.
type CachedTranslation struct {
	Src  string `json:"src"`
	Dst  string `json:"dst"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Result is the outcome of one translation, successful or not
type Result struct {
	Success        bool   `json:"success"`
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text,omitempty"`
	SourceLang     string `json:"from"`
	TargetLang     string `json:"to"`
	Hint           string `json:"font_size,omitempty"`
	ID             string `json:"id,omitempty"`
	Index          *int   `json:"index,omitempty"`
	Cached         bool   `json:"cached,omitempty"`
	Error          *Error `json:"error,omitempty"`
}

// Payload strips the caller-specific fields of a successful result
func (r Result) Payload() CachedTranslation {
	return CachedTranslation{
		Src:  r.SourceText,
		Dst:  r.TranslatedText,
		From: r.SourceLang,
		To:   r.TargetLang,
	}
}

// Result builds a caller-facing result for sourceText with hint merged in
func (c CachedTranslation) Result(sourceText, hint string) Result {
	return Result{
		Success:        true,
		SourceText:     sourceText,
		TranslatedText: c.Dst,
		SourceLang:     c.From,
		TargetLang:     c.To,
		Hint:           hint,
	}
}

// Failure builds a failed result
func Failure(sourceText, from, to string, err *Error) Result {
	return Result{
		Success:    false,
		SourceText: sourceText,
		SourceLang: from,
		TargetLang: to,
		Error:      err,
	}
}

// WithHint returns a copy of r carrying hint
func (r Result) WithHint(hint string) Result {
	r.Hint = hint
	return r
}

// BatchItem is one normalized batch input
type BatchItem struct {
	Text string `json:"text"`
	ID   string `json:"id"`
}

// BatchError describes one failed batch item
type BatchError struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResponse aggregates a batch translation
type BatchResponse struct {
	Results   []Result     `json:"results"`
	Total     int          `json:"total"`
	Success   int          `json:"success"`
	Failed    int          `json:"failed"`
	CacheHits int          `json:"cache_hits"`
	Errors    []BatchError `json:"errors,omitempty"`
	ElapsedMS int64        `json:"elapsed_ms"`
}
