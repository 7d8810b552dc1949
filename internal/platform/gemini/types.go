package gemini

import "encoding/json"

// promptData represents the data passed to the prompt template
type promptData struct {
	// ItemID is the stable identifier of the batch item
	ItemID string

	// Payload is the raw JSON payload of the item
	Payload string

	// Fields holds the decoded payload when it is a JSON object, so templates
	// can reference {{.Fields.title}} directly
	Fields map[string]any
}

func newPromptData(itemID string, payload json.RawMessage) promptData {
	data := promptData{
		ItemID:  itemID,
		Payload: string(payload),
	}

	var fields map[string]any
	if len(payload) > 0 && json.Unmarshal(payload, &fields) == nil {
		data.Fields = fields
	}

	return data
}
