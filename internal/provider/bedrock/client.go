// Package bedrock provides a provider.Client implementation backed by AWS
// Bedrock's Converse API, via github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
// Adapted from the teacher's own model.Client Bedrock adapter
// (features/model/bedrock), narrowed to the Converse call (no
// ConverseStream, no tool-use/thinking) since this engine only needs a
// third provider that demonstrates the capability-gated streaming
// fallback alongside openai. Only the text parts of a request are sent;
// image parts are dropped.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/weftrun/weft/internal/provider"
)

// ConverseClient captures the subset of the Bedrock runtime client used by
// the adapter.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	Client         ConverseClient
	DefaultModelID string
}

// Client implements provider.Client via Bedrock's Converse API.
type Client struct {
	rt      ConverseClient
	modelID string
}

// New builds a Bedrock-backed provider client.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("bedrock client is required")
	}
	if opts.DefaultModelID == "" {
		return nil, errors.New("default model id is required")
	}
	return &Client{rt: opts.Client, modelID: opts.DefaultModelID}, nil
}

// NewFromDefaultConfig constructs a client from the AWS default credential
// chain (environment, shared config, EC2/ECS role), mirroring the other
// adapters' NewFromAPIKey convenience constructors.
func NewFromDefaultConfig(ctx context.Context, modelID string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return New(Options{Client: bedrockruntime.NewFromConfig(cfg), DefaultModelID: modelID})
}

// SupportsStreaming always returns false: this adapter only wires the
// non-streaming Converse call, so the dispatcher's auto mode falls back to
// regular with fallback_reason "streaming_unsupported" (spec §4.7), the
// same capability-gated path the openai adapter demonstrates.
func (c *Client) SupportsStreaming() bool { return false }

// Complete issues a non-streaming Converse call.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	input, err := c.prepareInput(req)
	if err != nil {
		return provider.Completion{}, err
	}
	out, err := c.rt.Converse(ctx, input)
	if err != nil {
		return provider.Completion{}, classifyError(err, "bedrock converse")
	}
	return translateOutput(out), nil
}

// Stream reports that this adapter does not implement streaming; callers
// resolve to regular mode instead (spec §4.7, mode=auto path).
func (c *Client) Stream(context.Context, provider.Request) (provider.Streamer, error) {
	return nil, provider.ErrStreamingUnsupported
}

func (c *Client) prepareInput(req provider.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.modelID
	}

	var system []types.SystemContentBlock
	var messages []types.Message
	for _, m := range req.Messages {
		text := joinText(m)
		if m.Role == provider.RoleSystem {
			system = append(system, &types.SystemContentBlockMemberText{Value: text})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == provider.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		})
	}

	cfg := &types.InferenceConfiguration{}
	if req.Params.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.Params.MaxTokens))
	}
	if req.Params.Temperature > 0 {
		cfg.Temperature = aws.Float32(req.Params.Temperature)
	}

	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        messages,
		System:          system,
		InferenceConfig: cfg,
	}, nil
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

func translateOutput(out *bedrockruntime.ConverseOutput) provider.Completion {
	comp := provider.Completion{FinishReason: string(out.StopReason)}
	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return comp
	}
	for _, block := range msgOutput.Value.Content {
		if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
			comp.Text += textBlock.Value
			comp.RawParts = append(comp.RawParts, provider.Part{Type: "text", Text: textBlock.Value})
		}
	}
	if out.Usage != nil {
		comp.TokensPrompt = int(aws.ToInt32(out.Usage.InputTokens))
		comp.TokensCompletion = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return comp
}

// classifyError maps a raw smithy/AWS error to the provider error
// taxonomy, tagging throttling responses as transient.
func classifyError(err error, context string) error {
	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return fmt.Errorf("%s: %w: %w", context, provider.ErrRateLimited, err)
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && (respErr.HTTPStatusCode() == 429 || respErr.HTTPStatusCode() >= 500) {
		return fmt.Errorf("%s: %w: %w", context, provider.ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", context, err)
}
