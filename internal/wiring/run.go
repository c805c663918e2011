// Package wiring joins the producer and consumer halves of the flow for
// hosts that play both roles.
package wiring

import (
	"context"
	"fmt"

	"reportsync/internal/packager"
	"reportsync/internal/pipeline"
)

// Run executes the full flow: Pack on the producer, then Run (unpack, sweep,
// merge, manifest, scores) on the consumer. Both may be the same pipeline.
// A consumer failure still returns the pack result, since the payload was
// already published.
func Run(ctx context.Context, producer, consumer *pipeline.Pipeline, src, job string) (*packager.Result, *pipeline.RunSummary, error) {
	packed, err := producer.Pack(ctx, src, job)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: %w", err)
	}
	sum, err := consumer.Run(ctx)
	if err != nil {
		return packed, sum, fmt.Errorf("run: %w", err)
	}
	return packed, sum, nil
}
