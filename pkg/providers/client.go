package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/yehengbot/yeheng/pkg/prompt"
)

// structuredClient is the shared chat-completions implementation behind both
// backends; they differ only in how the go-openai config is assembled.
type structuredClient struct {
	name   string
	model  string
	client *openai.Client
}

func (c *structuredClient) Name() string { return c.name }

func (c *structuredClient) Complete(ctx context.Context, segments []prompt.Segment) (*Reply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(segments))
	for _, s := range segments {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: s.Role, Content: s.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   replySchemaName,
				Schema: replySchema(),
				Strict: true,
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &MalformedResponseError{Provider: c.name, Err: fmt.Errorf("backend returned no choices")}
	}

	return parseReply(c.name, resp.Choices[0].Message.Content)
}

// headerTransport injects static headers on every request (used for the
// OpenRouter attribution headers).
type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}
