package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/scry-batch/internal/domain"
)

type echoOutput struct {
	ItemID  string          `json:"item_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Echo is a Generator that returns the item's own id and payload. It lets a
// run exercise the state directory without calling the language model.
var Echo Generator = GeneratorFunc(func(ctx context.Context, item domain.Item) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(echoOutput{ItemID: item.ID, Payload: item.Payload})
})
