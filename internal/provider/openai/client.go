// Package openai provides a provider.Client implementation backed by the
// OpenAI Chat Completions API, via github.com/openai/openai-go. Adapted
// from the teacher's features/model/openai adapter shape (interface-scoped
// client, Options/New/NewFromAPIKey, translateResponse), rebound to the
// SDK actually declared in the teacher's go.mod.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/weftrun/weft/internal/provider"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so callers can pass either a real client or a mock in tests.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements provider.Client via the OpenAI Chat Completions API.
// Streaming is not implemented: this adapter always reports
// SupportsStreaming() == false, so the dispatcher's auto mode falls back
// to regular with fallback_reason "streaming_unsupported".
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed provider client from the given options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP
// client, reading the API key from apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: c.Chat.Completions, DefaultModel: defaultModel})
}

// SupportsStreaming always returns false for this adapter.
func (c *Client) SupportsStreaming() bool { return false }

// Complete renders a chat completion using the configured client.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	if len(req.Messages) == 0 {
		return provider.Completion{}, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case provider.RoleSystem:
			messages = append(messages, openai.SystemMessage(joinText(m)))
		case provider.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(joinText(m)))
		default:
			if !hasImagePart(m) {
				messages = append(messages, openai.UserMessage(joinText(m)))
				continue
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: contentParts(m),
					},
				},
			})
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if req.Params.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.Params.MaxTokens))
	}
	if req.Params.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Params.Temperature))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return provider.Completion{}, classifyError(err, "openai chat completion")
	}
	return translateResponse(resp), nil
}

// Stream reports that this adapter does not implement streaming; callers
// resolve to regular mode instead (spec §4.7, mode=auto path).
func (c *Client) Stream(context.Context, provider.Request) (provider.Streamer, error) {
	return nil, provider.ErrStreamingUnsupported
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

func hasImagePart(m provider.Message) bool {
	for _, p := range m.Content {
		if p.Type == "image_bytes" || p.Type == "image_uri" {
			return true
		}
	}
	return false
}

// contentParts translates every part of m into a chat completion content
// part, preserving order: text parts become text parts, image_bytes parts
// become inline data-URI image parts, image_uri parts become URL image
// parts - so the images_group mode (spec §3) actually reaches the model
// instead of being silently dropped.
func contentParts(m provider.Message) []openai.ChatCompletionContentPartUnionParam {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Content))
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
			uri := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(p.ImageBytes)
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: uri},
				},
			})
		case "image_uri":
			if p.ImageURI == "" {
				continue
			}
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: p.ImageURI},
				},
			})
		default: // "text"
			if p.Text != "" {
				parts = append(parts, openai.ChatCompletionContentPartUnionParam{
					OfText: &openai.ChatCompletionContentPartTextParam{Text: p.Text},
				})
			}
		}
	}
	return parts
}

func translateResponse(resp *openai.ChatCompletion) provider.Completion {
	if resp == nil || len(resp.Choices) == 0 {
		return provider.Completion{}
	}
	choice := resp.Choices[0]
	return provider.Completion{
		Text:             choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		TokensPrompt:     int(resp.Usage.PromptTokens),
		TokensCompletion: int(resp.Usage.CompletionTokens),
	}
}

func classifyError(err error, context string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%s: %w: %w", context, provider.ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%s: %w", context, err)
}
