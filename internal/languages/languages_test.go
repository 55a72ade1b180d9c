package languages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.True(t, c.IsTarget("en"))
	assert.True(t, c.IsTarget("lo"))
	assert.False(t, c.IsTarget("auto"), "auto is source only")
	assert.True(t, c.IsSource("auto"))
	assert.False(t, c.IsTarget("jp"), "disabled languages are not targets")

	for _, l := range c.Enabled() {
		assert.True(t, l.Enabled)
		assert.NotEqual(t, "kor", l.Code)
	}

	zh, ok := c.Get("zh")
	require.True(t, ok)
	assert.Equal(t, "Chinese", zh.Name)
	assert.True(t, zh.IsSource)
	assert.True(t, zh.IsTarget)
}

func TestParse_OrderAndDefaults(t *testing.T) {
	c, err := Parse([]byte(`
languages:
  th: {name: Thai}
  en: {name: English, is_source: false}
  vi: {name: Vietnamese, enabled: false}
`))
	require.NoError(t, err)

	var codes []string
	for _, l := range c.Enabled() {
		codes = append(codes, l.Code)
	}
	assert.Equal(t, []string{"en", "th"}, codes)
	assert.Len(t, c.Sources(), 1)
	assert.Len(t, c.Targets(), 2)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("languages: ["))
	assert.Error(t, err)

	_, err = Parse([]byte("languages: {}"))
	assert.Error(t, err)

	_, err = Parse([]byte("languages:\n  en: {enabled: true}"))
	assert.ErrorContains(t, err, "has no name")
}

func TestLoadOrDefault(t *testing.T) {
	c, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, c.IsTarget("en"))

	path := filepath.Join(t.TempDir(), "languages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("languages:\n  de: {name: German}\n"), 0o600))

	c, err = LoadOrDefault(path)
	require.NoError(t, err)
	assert.True(t, c.IsTarget("de"))
	assert.False(t, c.IsTarget("en"))

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
