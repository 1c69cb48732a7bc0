package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/yehengbot/yeheng/pkg/prompt"
)

// Reply is the uniform structured-output contract every backend must
// normalize to before the response integrator sees it.
type Reply struct {
	// TextResponse is delivered to the user verbatim.
	TextResponse string `json:"text_response"`
	// InputSummary is a compacted paraphrase of the user's message, stored
	// in place of the raw text so history does not balloon over many turns.
	InputSummary string `json:"input_summary"`
	// MemoryKeys and ImportantKeys are short strings the model flagged as
	// worth remembering about the user.
	MemoryKeys    []string `json:"memory_keys"`
	ImportantKeys []string `json:"important_keys"`
}

// Provider executes one structured chat completion. Which backend sits
// behind the interface is a configuration choice made once at startup.
type Provider interface {
	Name() string
	Complete(ctx context.Context, segments []prompt.Segment) (*Reply, error)
}

const replySchemaName = "persona_reply"

func replySchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"text_response": {
				Type:        jsonschema.String,
				Description: "回覆給使用者的訊息內容",
			},
			"input_summary": {
				Type:        jsonschema.String,
				Description: "使用者這次訊息的精簡摘要，會被保存為對話紀錄",
			},
			"memory_keys": {
				Type:        jsonschema.Array,
				Description: "需要被記得的個人資訊",
				Items:       &jsonschema.Definition{Type: jsonschema.String},
			},
			"important_keys": {
				Type:        jsonschema.Array,
				Description: "特別重要、需要優先參照的資訊",
				Items:       &jsonschema.Definition{Type: jsonschema.String},
			},
		},
		Required:             []string{"text_response", "input_summary", "memory_keys", "important_keys"},
		AdditionalProperties: false,
	}
}

// parseReply validates raw backend content against the contract and
// normalizes optional fields. Backends differ on nullability of the two
// key lists, so nil always becomes an empty slice here.
func parseReply(provider, raw string) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, &MalformedResponseError{Provider: provider, Raw: raw, Err: err}
	}
	if strings.TrimSpace(r.TextResponse) == "" {
		return nil, &MalformedResponseError{Provider: provider, Raw: raw, Err: fmt.Errorf("text_response is empty")}
	}
	if strings.TrimSpace(r.InputSummary) == "" {
		return nil, &MalformedResponseError{Provider: provider, Raw: raw, Err: fmt.Errorf("input_summary is empty")}
	}
	if r.MemoryKeys == nil {
		r.MemoryKeys = []string{}
	}
	if r.ImportantKeys == nil {
		r.ImportantKeys = []string{}
	}
	return &r, nil
}
