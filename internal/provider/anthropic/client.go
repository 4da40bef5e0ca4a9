// Package anthropic provides a provider.Client implementation backed by the
// Anthropic Claude Messages API, translating engine requests into
// anthropic.Message calls via github.com/anthropics/anthropic-sdk-go.
// Adapted from the teacher's features/model/anthropic adapter, narrowed to
// text/image parts (no tool-use or thinking, out of scope here).
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/weftrun/weft/internal/provider"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used
	// by the adapter, so callers can pass either a real client or a mock
	// in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *sdk.MessageStream
	}

	// Options configures optional adapter behavior.
	Options struct {
		// DefaultModel is used when Request.Model is empty.
		DefaultModel string
		// MaxTokens is used when Request.Params.MaxTokens is zero.
		MaxTokens int
	}

	// Client implements provider.Client on top of Anthropic Claude
	// Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
	}
)

// New builds an Anthropic-backed provider client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTok: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// client, authenticated with the given apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// SupportsStreaming always returns true: the Anthropic Messages API
// supports streaming for every model this adapter targets.
func (c *Client) SupportsStreaming() bool { return true }

// Complete issues a non-streaming Messages.New request.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return provider.Completion{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return provider.Completion{}, classifyError(err, "anthropic messages.new")
	}
	return translateMessage(msg), nil
}

// Stream invokes Messages.NewStreaming and adapts incremental events.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	return newStreamer(stream), nil
}

func (c *Client) prepareRequest(req provider.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}

	var system string
	var messages []sdk.MessageParam
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem {
			system = joinText(m)
			continue
		}
		role := sdk.MessageParamRoleUser
		if m.Role == provider.RoleAssistant {
			role = sdk.MessageParamRoleAssistant
		}
		messages = append(messages, sdk.MessageParam{
			Role:    role,
			Content: contentBlocks(m),
		})
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Params.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Params.Temperature))
	}
	return params, nil
}

func joinText(m provider.Message) string {
	var out string
	for _, p := range m.Content {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// contentBlocks translates every part of m into an Anthropic content
// block, preserving order: text parts become text blocks, image_bytes/
// image_uri parts become image blocks (inline base64 or URL source), so
// the images_group mode (spec §3) actually reaches the model instead of
// being silently dropped.
func contentBlocks(m provider.Message) []sdk.ContentBlockParamUnion {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
	for _, p := range m.Content {
		switch p.Type {
		case "image_bytes":
			if len(p.ImageBytes) == 0 {
				continue
			}
			mediaType := p.ImageMime
			if mediaType == "" {
				mediaType = "image/png"
			}
			blocks = append(blocks, sdk.ContentBlockParamUnion{
				OfImage: &sdk.ImageBlockParam{
					Source: sdk.ImageBlockParamSourceUnion{
						OfBase64: &sdk.Base64ImageSourceParam{
							MediaType: sdk.Base64ImageSourceMediaType(mediaType),
							Data:      base64.StdEncoding.EncodeToString(p.ImageBytes),
						},
					},
				},
			})
		case "image_uri":
			if p.ImageURI == "" {
				continue
			}
			blocks = append(blocks, sdk.ContentBlockParamUnion{
				OfImage: &sdk.ImageBlockParam{
					Source: sdk.ImageBlockParamSourceUnion{
						OfURL: &sdk.URLImageSourceParam{URL: p.ImageURI},
					},
				},
			})
		default: // "text"
			if p.Text != "" {
				blocks = append(blocks, sdk.ContentBlockParamUnion{OfText: &sdk.TextBlockParam{Text: p.Text}})
			}
		}
	}
	return blocks
}

func translateMessage(msg *sdk.Message) provider.Completion {
	if msg == nil {
		return provider.Completion{}
	}
	comp := provider.Completion{
		FinishReason: string(msg.StopReason),
	}
	if msg.Usage.InputTokens > 0 {
		comp.TokensPrompt = int(msg.Usage.InputTokens)
	}
	if msg.Usage.OutputTokens > 0 {
		comp.TokensCompletion = int(msg.Usage.OutputTokens)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			comp.Text += block.Text
			comp.RawParts = append(comp.RawParts, provider.Part{Type: "text", Text: block.Text})
		}
	}
	return comp
}

// classifyError maps a raw SDK error to the provider error taxonomy,
// tagging HTTP 429 and 5xx responses as transient per the Anthropic API
// error model.
func classifyError(err error, context string) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%s: %w: %w", context, provider.ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%s: %w", context, err)
}
