// Package relay forwards upstream completion deltas to the caller.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"alibi/backend/internal/credentials"
	"alibi/backend/internal/logging"
	"alibi/backend/internal/openrouter"
	"alibi/backend/internal/prompt"
)

// StreamFailureMessage is the only upstream failure text a caller ever sees.
const StreamFailureMessage = "Sorry, the excuse generator hit a snag. Please try again."

var ErrEmptyCompletion = errors.New("upstream returned an empty completion")

// Upstream is the chat completion API. openrouter.Client satisfies it.
type Upstream interface {
	StreamChatCompletion(
		ctx context.Context,
		apiKey string,
		req openrouter.StreamRequest,
		onStart func() error,
		onDelta func(string) error,
		onUsage func(openrouter.Usage) error,
	) error
}

type Relay struct {
	upstream    Upstream
	model       string
	temperature float64
	logger      logging.Logger
}

func New(upstream Upstream, model string, logger logging.Logger) Relay {
	return Relay{upstream: upstream, model: model, temperature: 0.9, logger: logger}
}

// Stream relays one generation into sess. The session is always closed when
// Stream returns: completed, aborted with StreamFailureMessage, or
// disconnected if ctx ended first. The returned error is for logging only.
func (r Relay) Stream(ctx context.Context, cred credentials.Credential, prompts prompt.Prompts, sess *Session) error {
	if err := sess.Open(); err != nil {
		return err
	}

	chunks := 0
	err := r.upstream.StreamChatCompletion(
		ctx,
		cred.Reveal(),
		r.request(prompts),
		nil,
		func(delta string) error {
			chunks++
			return sess.Emit(delta)
		},
		func(u openrouter.Usage) error {
			r.logger.Debug(ctx, "upstream usage", "prompt_tokens", u.PromptTokens, "completion_tokens", u.CompletionTokens)
			return nil
		},
	)

	if err == nil {
		r.logger.Info(ctx, "stream completed", "chunks", chunks)
		return sess.Complete()
	}
	if ctx.Err() != nil {
		sess.Disconnect()
		r.logger.Info(ctx, "caller disconnected during stream", "chunks", chunks)
		return ctx.Err()
	}

	r.logger.Error(ctx, "upstream stream failed", "chunks", chunks, "error", describe(err, cred))
	if abortErr := sess.Abort(StreamFailureMessage); abortErr != nil && !errors.Is(abortErr, ErrClosed) {
		r.logger.Warn(ctx, "write stream abort", "error", abortErr.Error())
	}
	return err
}

// Complete runs a generation to the end and returns the full text.
func (r Relay) Complete(ctx context.Context, cred credentials.Credential, prompts prompt.Prompts) (string, error) {
	var out strings.Builder
	err := r.upstream.StreamChatCompletion(
		ctx,
		cred.Reveal(),
		r.request(prompts),
		nil,
		func(delta string) error {
			out.WriteString(delta)
			return nil
		},
		nil,
	)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error(ctx, "upstream completion failed", "error", describe(err, cred))
		}
		return "", err
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (r Relay) request(prompts prompt.Prompts) openrouter.StreamRequest {
	temperature := r.temperature
	return openrouter.StreamRequest{
		Model: r.model,
		Messages: []openrouter.Message{
			{Role: "system", Content: prompts.System},
			{Role: "user", Content: prompts.User},
		},
		Temperature: &temperature,
	}
}

// Describe renders an upstream error for logs. Provider bodies and
// in-stream messages can echo request headers, so both are reduced to a
// fixed form.
func Describe(err error) string {
	var statusErr openrouter.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("upstream status %d", statusErr.StatusCode)
	}
	var streamErr openrouter.StreamError
	if errors.As(err, &streamErr) {
		return "upstream stream error"
	}
	return err.Error()
}

func describe(err error, cred credentials.Credential) string {
	return cred.Scrub(Describe(err))
}
