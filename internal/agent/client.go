package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/rahul/autoreq/pkg/config"
)

var (
	// ErrModelTimeout is returned when a completion exceeds its deadline.
	ErrModelTimeout = errors.New("model call timed out")
	// ErrEmptyResponse is returned when the backend answers with no choices.
	ErrEmptyResponse = errors.New("model returned no choices")
)

// Completer turns a role-tagged message list into text.
type Completer interface {
	Complete(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// ClientOptions are the per-call settings applied to every completion.
type ClientOptions struct {
	Model             string
	Temperature       float64
	Timeout           time.Duration
	Seed              int
	RequestsPerSecond float64
}

func ClientOptionsFromConfig(c config.LLMConfig) ClientOptions {
	return ClientOptions{
		Model:             c.Model,
		Temperature:       c.Temperature,
		Timeout:           c.Timeout(),
		Seed:              c.Seed,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// Client wraps an llms.Model with a timeout, fixed sampling options and an
// optional rate limit. It holds no conversation state and is safe for
// concurrent use.
type Client struct {
	model   llms.Model
	opts    ClientOptions
	limiter *rate.Limiter
}

func NewClient(model llms.Model, opts ClientOptions) *Client {
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(math.Max(1, math.Ceil(opts.RequestsPerSecond)))
	}
	return &Client{
		model:   model,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// NewOpenAIModel builds an OpenAI-compatible backend (OpenAI, Ollama, vLLM...).
func NewOpenAIModel(c config.LLMConfig) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(c.APIKey),
		openai.WithModel(c.Model),
	}
	if c.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(c.BaseURL))
	}
	return openai.New(opts...)
}

func (c *Client) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", c.wrapErr(ctx, err)
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(c.opts.Temperature),
		llms.WithSeed(c.opts.Seed),
	}
	if c.opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(c.opts.Model))
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", c.wrapErr(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func (c *Client) wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrModelTimeout, c.opts.Timeout, err)
	}
	return fmt.Errorf("model call failed: %w", err)
}
