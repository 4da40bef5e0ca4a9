// Package provider defines the provider-agnostic model client contract
// (spec §6.2) that every provider adapter implements, and that the
// dispatcher calls through. It is the generalisation of the teacher's
// runtime/agent/model package, stripped of tool-use/thinking/caching
// concerns that are out of this engine's scope.
package provider

import (
	"context"
	"errors"
)

type (
	// Role is the role of a message in a conversation.
	Role string

	// Part is a single content block within a Message.
	Part struct {
		// Type discriminates the part: "text", "image_bytes", or
		// "image_uri" (spec §6.2).
		Type string
		Text string
		// ImageBytes carries inline image data when Type is
		// "image_bytes".
		ImageBytes []byte
		ImageMime  string
		// ImageURI carries an external image reference when Type is
		// "image_uri".
		ImageURI string
	}

	// Message is one entry in an ordered conversation transcript.
	Message struct {
		Role Role
		// Content is either a single Part of type "text" (the common
		// case) or an ordered list when the message is multimodal.
		Content []Part
	}

	// Params carries per-call generation parameters.
	Params struct {
		Temperature float32
		MaxTokens   int
		// Extra carries provider-opaque key/value pairs that adapters
		// may translate into provider-specific request fields.
		Extra map[string]any
	}

	// Request bundles a transcript and generation parameters for a single
	// dispatch.
	Request struct {
		Model    string
		Messages []Message
		Params   Params
	}

	// Completion is the provider-returned atom for a non-streaming (or
	// fully drained streaming) call.
	Completion struct {
		Text             string
		FinishReason     string
		TokensPrompt     int
		TokensCompletion int
		RawParts         []Part
	}

	// TokenChunk is a streaming atom. The terminal chunk carries Final
	// set to true and Completion populated with the aggregated result.
	TokenChunk struct {
		DeltaText string
		Index     int
		Final     bool
		Completion *Completion
	}

	// Client is the provider-agnostic model client every adapter
	// implements (spec §6.2).
	Client interface {
		// SupportsStreaming reports whether this client implements
		// Stream. Fixed per adapter instance; never varies per call.
		SupportsStreaming() bool

		// Complete performs a synchronous-appearing, non-streaming
		// invocation.
		Complete(ctx context.Context, req Request) (Completion, error)

		// Stream performs a streaming invocation. Callers must drain the
		// returned Streamer to its terminal chunk, then Close it.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output.
	Streamer interface {
		// Recv returns the next TokenChunk, or io.EOF once the terminal
		// chunk has already been delivered.
		Recv() (TokenChunk, error)
		Close() error
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrStreamingUnsupported indicates the provider does not support
// streaming. Adapters that never implement Stream return this from Stream;
// SupportsStreaming reports false so the dispatcher never calls it.
var ErrStreamingUnsupported = errors.New("provider: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting or transient overload; the retry/rate controller treats it as
// transient.
var ErrRateLimited = errors.New("provider: rate limited")

// IsRateLimited reports whether err (or any error it wraps) is
// ErrRateLimited, the classifier adapters plug into retry.Call.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTransient is the default retry.Classifier for provider calls: rate
// limiting and any error explicitly tagged rate-limited are retried;
// everything else (including ErrStreamingUnsupported and context
// cancellation) is not.
func IsTransient(err error) bool {
	return IsRateLimited(err)
}
