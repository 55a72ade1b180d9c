package translator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTexts(t *testing.T) {
	tests := []struct {
		name     string
		texts    []string
		maxItems int
		maxChars int
		want     [][]string
	}{
		{name: "empty", texts: nil, maxItems: 2, maxChars: 10, want: nil},
		{name: "by item count", texts: []string{"a", "b", "c"}, maxItems: 2, maxChars: 100, want: [][]string{{"a", "b"}, {"c"}}},
		{name: "by char budget", texts: []string{"aaaa", "bbbb", "cc"}, maxItems: 10, maxChars: 6, want: [][]string{{"aaaa"}, {"bbbb", "cc"}}},
		{name: "oversized text alone", texts: []string{"a", strings.Repeat("x", 20), "b"}, maxItems: 10, maxChars: 5, want: [][]string{{"a"}, {strings.Repeat("x", 20)}, {"b"}}},
		{name: "counts runes", texts: []string{"你好", "世界"}, maxItems: 10, maxChars: 4, want: [][]string{{"你好", "世界"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkTexts(tt.texts, tt.maxItems, tt.maxChars))
		})
	}
}

func TestTranslateTexts(t *testing.T) {
	upstream := newStubUpstream(map[string]string{"a": "A", "b": "B", "c": "C"})
	cfg := fastConfig()
	cfg.MaxBatchSize = 2
	tr := New(upstream, newRecordingCache(), cfg)

	got, err := tr.TranslateTexts(context.Background(), []string{"a", "b", "a", " ", "c"}, "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "A", "b": "B", "c": "C"}, got)
	assert.Equal(t, int64(3), upstream.total.Load())
}

func TestTranslateTexts_PartialFailure(t *testing.T) {
	upstream := newStubUpstream(map[string]string{"a": "A"})
	tr := New(upstream, nil, fastConfig())

	got, err := tr.TranslateTexts(context.Background(), []string{"a", "zz"}, "en", "fr")
	require.Error(t, err)
	assert.Equal(t, "1 of 2 texts failed to translate", err.Error())
	assert.Contains(t, fmt.Sprintf("%+v", err), "TranslateTexts", "error should carry a stack trace")
	assert.Equal(t, map[string]string{"a": "A"}, got)
}

func TestTranslateTexts_CanceledContext(t *testing.T) {
	tr := New(newStubUpstream(nil), nil, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := tr.TranslateTexts(ctx, []string{"a"}, "en", "fr")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
}
