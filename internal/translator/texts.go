package translator

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ChunkTexts splits texts into chunks of at most maxItems entries and
// maxChars characters. Texts are never split; a text longer than maxChars
// gets a chunk of its own.
func ChunkTexts(texts []string, maxItems, maxChars int) [][]string {
	if len(texts) == 0 {
		return nil
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxBatchSize
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var (
		chunks  [][]string
		current []string
		chars   int
	)

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			chars = 0
		}
	}

	for _, text := range texts {
		n := utf8.RuneCountInString(text)

		if n > maxChars {
			flush()
			chunks = append(chunks, []string{text})
			continue
		}

		if len(current) >= maxItems || (chars+n > maxChars && len(current) > 0) {
			flush()
		}

		current = append(current, text)
		chars += n
	}
	flush()

	return chunks
}

// TranslateTexts translates a flat list of source strings for a text producer
// and returns a source to translation mapping. Blank and duplicate texts are
// skipped. Failed texts are missing from the map and reported in the error;
// the map is always usable.
func (t *Translator) TranslateTexts(ctx context.Context, texts []string, from, to string) (map[string]string, error) {
	seen := make(map[string]struct{}, len(texts))
	unique := make([]string, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		unique = append(unique, text)
	}

	translations := make(map[string]string, len(unique))
	failed := 0

	for _, chunk := range ChunkTexts(unique, t.config.MaxBatchSize, t.config.MaxChunkChars) {
		if err := ctx.Err(); err != nil {
			return translations, err
		}

		resp := t.TranslateBatch(ctx, NormalizeTexts(chunk), from, to, true, "", 0)
		for i, r := range resp.Results {
			if r.Success {
				translations[chunk[i]] = r.TranslatedText
			} else {
				failed++
			}
		}

		t.logger.Debug("Translated text chunk", map[string]interface{}{
			"texts":      len(chunk),
			"success":    resp.Success,
			"cache_hits": resp.CacheHits,
			"elapsed_ms": resp.ElapsedMS,
		})
	}

	if failed > 0 {
		return translations, errors.Errorf("%d of %d texts failed to translate", failed, len(unique))
	}
	return translations, nil
}
