package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"github.com/acme-studios/cf-rag-agent/internal/config"
	"github.com/acme-studios/cf-rag-agent/internal/logger"
)

// Client wraps the Gemini API with a circuit breaker and a rate limiter so
// a degraded upstream fails fast instead of queueing work.
type Client struct {
	client  *genai.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	model   string
}

func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	// Free-tier RPM with some buffer.
	limiter := rate.NewLimiter(rate.Limit(10*0.9/60.0), 2)

	return &Client{
		client:  client,
		breaker: newBreaker(),
		limiter: limiter,
		model:   cfg.GenerateModel,
	}, nil
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", c.model),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		model := c.newModel(system)
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return responseText(resp), nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", err
	}

	return result.(string), nil
}

// GenerateJSON runs a completion in JSON mode, for structured planner
// output.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string) ([]byte, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_json")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		model := c.newModel(system)
		model.ResponseMIMEType = "application/json"
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return []byte(responseText(resp)), nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, err
	}

	return result.([]byte), nil
}

// Stream runs a streaming completion, invoking onDelta for each text
// fragment. The accumulated text so far is always returned, also when the
// stream fails mid-way, so a partial answer is never lost.
func (c *Client) Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.stream")
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", c.model))

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	model := c.newModel(system)
	iter := model.GenerateContentStream(ctx, genai.Text(prompt))

	full, err := c.consumeStream(iter.Next, onDelta)
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.stream_error", true))
		return full, err
	}

	span.SetAttributes(attribute.Int("gemini.answer_chars", len(full)))
	return full, nil
}

// consumeStream pulls fragments from next until the stream ends. The
// first read runs inside the breaker, same as the non-streaming calls,
// so a failing upstream trips it from the streaming path too.
func (c *Client) consumeStream(next func() (*genai.GenerateContentResponse, error), onDelta func(string) error) (string, error) {
	var full string
	emit := func(resp *genai.GenerateContentResponse) {
		delta := responseText(resp)
		if delta == "" {
			return
		}
		full += delta
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				// Caller gone; keep draining so the answer is complete
				// server-side.
				onDelta = nil
			}
		}
	}

	first, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := next()
		if errors.Is(err, iterator.Done) {
			return nil, nil
		}
		return resp, err
	})
	if err != nil {
		return full, fmt.Errorf("stream interrupted: %w", err)
	}
	if first == nil {
		return "", nil
	}
	emit(first.(*genai.GenerateContentResponse))

	for {
		resp, err := next()
		if errors.Is(err, iterator.Done) {
			return full, nil
		}
		if err != nil {
			return full, fmt.Errorf("stream interrupted: %w", err)
		}
		emit(resp)
	}
}

func (c *Client) newModel(system string) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.7)
	model.SetMaxOutputTokens(2048)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	return model
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return text
}
