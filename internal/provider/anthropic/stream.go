package anthropic

import (
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/weftrun/weft/internal/provider"
)

// streamer adapts sdk.MessageStream's event loop to provider.Streamer,
// aggregating text deltas into a final Completion delivered on the
// terminal chunk.
type streamer struct {
	stream    *sdk.MessageStream
	index     int
	text      string
	tokensIn  int
	tokensOut int
	finish    string
	done      bool
	sentFinal bool
}

func newStreamer(stream *sdk.MessageStream) *streamer {
	return &streamer{stream: stream}
}

func (s *streamer) Recv() (provider.TokenChunk, error) {
	if s.sentFinal {
		return provider.TokenChunk{}, io.EOF
	}
	if s.done {
		s.sentFinal = true
		return provider.TokenChunk{
			Final: true,
			Completion: &provider.Completion{
				Text:             s.text,
				FinishReason:     s.finish,
				TokensPrompt:     s.tokensIn,
				TokensCompletion: s.tokensOut,
			},
		}, nil
	}

	for s.stream.Next() {
		event := s.stream.Current()
		switch variant := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if variant.Delta.Text != "" {
				s.text += variant.Delta.Text
				s.index++
				return provider.TokenChunk{DeltaText: variant.Delta.Text, Index: s.index - 1}, nil
			}
		case sdk.MessageDeltaEvent:
			s.finish = string(variant.Delta.StopReason)
			if variant.Usage.OutputTokens > 0 {
				s.tokensOut = int(variant.Usage.OutputTokens)
			}
		case sdk.MessageStartEvent:
			if variant.Message.Usage.InputTokens > 0 {
				s.tokensIn = int(variant.Message.Usage.InputTokens)
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return provider.TokenChunk{}, classifyError(err, "anthropic stream")
	}
	s.done = true
	return s.Recv()
}

func (s *streamer) Close() error {
	return s.stream.Close()
}
