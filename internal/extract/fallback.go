package extract

import (
	"context"

	"github.com/keshucs12345/taxvoice/internal/logging"
)

// FallbackClient wraps a primary LLM client with a fallback provider.
// If the primary fails, the request is retried once on the fallback.
type FallbackClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

// NewFallbackClient returns primary unchanged when fallback is nil.
func NewFallbackClient(primary, fallback LLMClient, logger *logging.Logger) LLMClient {
	if fallback == nil {
		return primary
	}
	return &FallbackClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger.Component("llm"),
	}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return Response{}, err
	}

	c.logger.Warn("primary LLM failed, attempting fallback", "error", err.Error())
	resp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return Response{}, fallbackErr
	}
	c.logger.Info("fallback LLM succeeded after primary failure")
	return resp, nil
}
