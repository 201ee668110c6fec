package ai

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	genai "github.com/google/generative-ai-go/genai"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}}},
		},
	}
}

// fakeStream replays a scripted sequence of responses and errors.
type fakeStream struct {
	responses []*genai.GenerateContentResponse
	err       error
	calls     int
}

func (f *fakeStream) next() (*genai.GenerateContentResponse, error) {
	f.calls++
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		return resp, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, iterator.Done
}

func TestConsumeStreamJoinsFragments(t *testing.T) {
	c := &Client{breaker: newBreaker()}
	stream := &fakeStream{responses: []*genai.GenerateContentResponse{
		textResponse("Hello "),
		textResponse("world."),
	}}

	var deltas []string
	full, err := c.consumeStream(stream.next, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", full)
	assert.Equal(t, []string{"Hello ", "world."}, deltas)
}

func TestConsumeStreamReturnsPartialTextOnInterruption(t *testing.T) {
	c := &Client{breaker: newBreaker()}
	stream := &fakeStream{
		responses: []*genai.GenerateContentResponse{textResponse("partial")},
		err:       errors.New("connection reset"),
	}

	full, err := c.consumeStream(stream.next, nil)
	require.Error(t, err)
	assert.Equal(t, "partial", full)
}

func TestConsumeStreamFailuresTripBreaker(t *testing.T) {
	c := &Client{breaker: newBreaker()}
	upstream := errors.New("deadline exceeded")

	for i := 0; i < 3; i++ {
		stream := &fakeStream{err: upstream}
		_, err := c.consumeStream(stream.next, nil)
		require.ErrorIs(t, err, upstream)
		assert.Equal(t, 1, stream.calls)
	}

	require.Equal(t, gobreaker.StateOpen, c.breaker.State())

	stream := &fakeStream{err: upstream}
	_, err := c.consumeStream(stream.next, nil)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, stream.calls, "an open breaker must not reach the upstream")
}
