// Package input loads the item set for a run from a file.
//
// Supported formats are chosen by extension: .jsonl (one item per line),
// .json (an array of items) and .yaml or .yml (a sequence of items). Each
// item has an "id" and an optional free-form "payload".
package input

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/scry-batch/internal/domain"
	"gopkg.in/yaml.v3"
)

// maxLineSize bounds a single JSON Lines record.
const maxLineSize = 16 << 20

// ErrUnsupportedFormat is returned for an unknown file extension.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// LoadFile reads all items from path. Any read or parse failure is fatal to
// the run; uniqueness of ids is checked by the caller.
func LoadFile(path string) ([]domain.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}

	var items []domain.Item
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl", ".ndjson":
		items, err = parseJSONLines(data)
	case ".json":
		items, err = parseJSON(data)
	case ".yaml", ".yml":
		items, err = parseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse input %s: %w", path, err)
	}
	return items, nil
}

func parseJSONLines(data []byte) ([]domain.Item, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var items []domain.Item
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var item domain.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return items, nil
}

func parseJSON(data []byte) ([]domain.Item, error) {
	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

type yamlItem struct {
	ID      string `yaml:"id"`
	Payload any    `yaml:"payload"`
}

func parseYAML(data []byte) ([]domain.Item, error) {
	var raw []yamlItem
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(raw))
	for idx, r := range raw {
		item := domain.Item{ID: r.ID}
		if r.Payload != nil {
			payload, err := json.Marshal(r.Payload)
			if err != nil {
				return nil, fmt.Errorf("item %d (%s): payload is not representable as JSON: %w", idx, r.ID, err)
			}
			item.Payload = payload
		}
		items = append(items, item)
	}
	return items, nil
}
