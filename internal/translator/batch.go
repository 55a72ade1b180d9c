package translator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// batchJob groups batch items by normalized text, remembering every position
// that asked for each text
type batchJob struct {
	items     []BatchItem
	unique    []string
	positions map[string][]int
	invalid   []int
}

func newBatchJob(items []BatchItem) *batchJob {
	job := &batchJob{
		items:     items,
		positions: make(map[string][]int, len(items)),
	}
	for i, item := range items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			job.invalid = append(job.invalid, i)
			continue
		}
		if _, seen := job.positions[text]; !seen {
			job.unique = append(job.unique, text)
		}
		job.positions[text] = append(job.positions[text], i)
	}
	return job
}

// NormalizeTexts turns plain strings into batch items whose ids are their positions
func NormalizeTexts(texts []string) []BatchItem {
	items := make([]BatchItem, len(texts))
	for i, text := range texts {
		items[i] = BatchItem{Text: text, ID: strconv.Itoa(i)}
	}
	return items
}

// TranslateBatch translates items, deduplicating by text. Cached texts are
// fetched in one batch read, the rest are dispatched concurrently (bounded by
// maxConcurrent and the shared upstream slots) and written back in one batch
// write. Results line up with items position by position.
func (t *Translator) TranslateBatch(ctx context.Context, items []BatchItem, from, to string, useCache bool, hint string, maxConcurrent int) BatchResponse {
	start := time.Now()

	ctx, span := t.tracer.Start(ctx, "translator.TranslateBatch")
	defer span.End()

	resp := BatchResponse{
		Results: make([]Result, len(items)),
		Total:   len(items),
	}
	if len(items) == 0 {
		return resp
	}

	job := newBatchJob(items)
	span.SetAttributes(
		attribute.Int("batch.items", len(items)),
		attribute.Int("batch.unique", len(job.unique)),
	)

	resolved := make(map[string]Result, len(job.unique))
	fromCache := make(map[string]bool, len(job.unique))

	if useCache && t.cache != nil && len(job.unique) > 0 {
		keys := make([]string, len(job.unique))
		keyText := make(map[string]string, len(job.unique))
		for i, text := range job.unique {
			keys[i] = Key(text, from, to)
			keyText[keys[i]] = text
		}

		for key, raw := range t.cache.BatchGet(ctx, keys) {
			var payload CachedTranslation
			if err := json.Unmarshal(raw, &payload); err != nil {
				continue
			}
			text := keyText[key]
			resolved[text] = payload.Result(text, "")
			fromCache[text] = true
		}
	}

	pending := make([]string, 0, len(job.unique))
	for _, text := range job.unique {
		if _, ok := resolved[text]; !ok {
			pending = append(pending, text)
		}
	}

	if maxConcurrent <= 0 {
		maxConcurrent = t.config.MaxConcurrentRequests
	}

	fetched := make([]Result, len(pending))
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, text := range pending {
		i, text := i, text
		g.Go(func() error {
			source := items[job.positions[text][0]].Text
			fetched[i] = t.TranslateSingle(ctx, source, from, to, false, "")
			return nil
		})
	}
	_ = g.Wait()

	writes := make(map[string][]byte, len(pending))
	for i, text := range pending {
		result := fetched[i]
		resolved[text] = result
		if !result.Success || !useCache || t.cache == nil {
			continue
		}
		raw, err := json.Marshal(result.Payload())
		if err != nil {
			continue
		}
		writes[Key(text, from, to)] = raw
	}
	if len(writes) > 0 {
		t.cache.BatchSet(ctx, writes, t.config.CacheTTL)
	}

	for _, pos := range job.invalid {
		resp.Results[pos] = Failure(items[pos].Text, from, to, NewError(KindValidation, "text must not be blank"))
	}
	for _, text := range job.unique {
		shared := resolved[text]
		for _, pos := range job.positions[text] {
			r := shared
			r.SourceText = items[pos].Text
			if r.Success {
				r = r.WithHint(hint)
				r.Cached = fromCache[text]
			}
			resp.Results[pos] = r
		}
	}

	for pos := range resp.Results {
		idx := pos
		r := &resp.Results[pos]
		r.ID = items[pos].ID
		r.Index = &idx

		switch {
		case r.Success:
			resp.Success++
			if r.Cached {
				resp.CacheHits++
			}
		default:
			resp.Failed++
			msg := "translation failed"
			if r.Error != nil {
				msg = r.Error.Error()
			}
			resp.Errors = append(resp.Errors, BatchError{Index: pos, ID: items[pos].ID, Error: msg})
		}
	}

	resp.ElapsedMS = time.Since(start).Milliseconds()
	return resp
}
