package turn

import (
	"context"

	"github.com/voxgate/voxgate/internal/upstream"
)

// gateway adapts [*upstream.Client] to [Streamer]; the method sets differ
// only in the concrete stream type.
type gateway struct {
	c *upstream.Client
}

// NewGateway wraps an upstream client for use as the pipeline's Streamer.
func NewGateway(c *upstream.Client) Streamer {
	return gateway{c: c}
}

func (g gateway) PrepareBody(raw []byte) ([]byte, error) {
	return g.c.PrepareBody(raw)
}

func (g gateway) Stream(ctx context.Context, body []byte) (Stream, error) {
	s, err := g.c.Stream(ctx, body)
	if err != nil {
		return nil, err
	}
	return s, nil
}
