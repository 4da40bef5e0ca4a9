package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/provider"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *sdk.MessageStream {
	s.lastParams = body
	return nil
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-3.5-sonnet"})
	assert.Error(t, err)
}

func TestNewRejectsEmptyDefaultModel(t *testing.T) {
	_, err := New(&stubMessagesClient{}, Options{})
	assert.Error(t, err)
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			StopReason: "end_turn",
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello back"},
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	comp, err := cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.Part{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", comp.Text)
	assert.Equal(t, "end_turn", comp.FinishReason)
	assert.Equal(t, int64(128), stub.lastParams.MaxTokens)
}

func TestSupportsStreamingIsAlwaysTrue(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-3.5-sonnet"})
	require.NoError(t, err)
	assert.True(t, cl.SupportsStreaming())
}

func TestCompleteSendsImagePartsAsImageBlocks(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: "end_turn"}}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: []provider.Part{
			{Type: "text", Text: "describe these"},
			{Type: "image_bytes", ImageBytes: []byte{0xFF, 0xD8}, ImageMime: "image/jpeg"},
			{Type: "image_uri", ImageURI: "https://example.com/a.png"},
		}}},
	})
	require.NoError(t, err)

	require.Len(t, stub.lastParams.Messages, 1)
	blocks := stub.lastParams.Messages[0].Content
	require.Len(t, blocks, 3)
	require.NotNil(t, blocks[0].OfText)
	assert.Equal(t, "describe these", blocks[0].OfText.Text)
	require.NotNil(t, blocks[1].OfImage)
	require.NotNil(t, blocks[1].OfImage.Source.OfBase64)
	assert.Equal(t, "image/jpeg", string(blocks[1].OfImage.Source.OfBase64.MediaType))
	require.NotNil(t, blocks[2].OfImage)
	require.NotNil(t, blocks[2].OfImage.Source.OfURL)
	assert.Equal(t, "https://example.com/a.png", blocks[2].OfImage.Source.OfURL.URL)
}
