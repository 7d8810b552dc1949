package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantIDs  []string
		payload0 string
	}{
		{
			name:     "json lines",
			file:     "items.jsonl",
			content:  "{\"id\":\"a\",\"payload\":{\"topic\":\"go\"}}\n\n{\"id\":\"b\"}\n",
			wantIDs:  []string{"a", "b"},
			payload0: `{"topic":"go"}`,
		},
		{
			name:     "json array",
			file:     "items.json",
			content:  `[{"id":"a","payload":{"topic":"go"}},{"id":"b"},{"id":"c"}]`,
			wantIDs:  []string{"a", "b", "c"},
			payload0: `{"topic":"go"}`,
		},
		{
			name: "yaml",
			file: "items.YAML",
			content: `- id: a
  payload:
    topic: go
    tags: [x, y]
- id: b
`,
			wantIDs:  []string{"a", "b"},
			payload0: `{"tags":["x","y"],"topic":"go"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := LoadFile(writeInput(t, tt.file, tt.content))
			require.NoError(t, err)
			require.Len(t, items, len(tt.wantIDs))

			for i, id := range tt.wantIDs {
				assert.Equal(t, id, items[i].ID)
			}
			assert.JSONEq(t, tt.payload0, string(items[0].Payload))
			assert.Empty(t, items[1].Payload)
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadFile(writeInput(t, "items.csv", "id\na\n"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("malformed json line reports line number", func(t *testing.T) {
		_, err := LoadFile(writeInput(t, "items.jsonl", "{\"id\":\"a\"}\n{broken\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadFile(writeInput(t, "items.yml", "- id: [unterminated\n"))
		assert.Error(t, err)
	})

	t.Run("json object instead of array", func(t *testing.T) {
		_, err := LoadFile(writeInput(t, "items.json", `{"id":"a"}`))
		assert.Error(t, err)
	})
}
