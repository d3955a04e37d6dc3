package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/driver"
)

func TestValuesExpand(t *testing.T) {
	v := NewValues(map[string]string{"query": "mechanical keyboard"})
	v.Set("price", "$42")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single placeholder", "search for {{query}}", "search for mechanical keyboard"},
		{"spaced placeholder", "{{ price }}", "$42"},
		{"multiple placeholders", "{{query}} costs {{price}}", "mechanical keyboard costs $42"},
		{"unknown key left verbatim", "hello {{missing}}", "hello {{missing}}"},
		{"no placeholders", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Expand(tt.in))
		})
	}
}

func TestValuesSnapshot(t *testing.T) {
	v := NewValues(nil)
	v.Set("a", "1")

	snap := v.Snapshot()
	snap["a"] = "mutated"

	got, ok := v.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", got, "snapshot must be a copy")
}

func TestSaverWritesPNG(t *testing.T) {
	dir := t.TempDir()
	s := NewSaver(dir, zap.NewNop())

	shot := &driver.Screenshot{Data: []byte{0x89, 0x50, 0x4e, 0x47}, URL: "https://example.com"}

	path, err := s.Save(shot, "result")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "result.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, shot.Data, data)
}

func TestSaverDefaultsFilename(t *testing.T) {
	dir := t.TempDir()
	s := NewSaver(dir, zap.NewNop())

	path, err := s.Save(&driver.Screenshot{Data: []byte{1}}, "")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, ".png", filepath.Ext(path))
}

func TestSaverStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	s := NewSaver(dir, zap.NewNop())

	path, err := s.Save(&driver.Screenshot{Data: []byte{1}}, "../escape.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.png"), path)
}
