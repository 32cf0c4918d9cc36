package compose

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/normanking/clipforge/internal/media"
)

// Composer loops a background clip to narration length and muxes the
// narration in as the only audio stream.
type Composer struct {
	prober  *media.Prober
	encoder *media.Encoder
	log     zerolog.Logger
}

// NewComposer creates a Composer over the given media tools.
func NewComposer(prober *media.Prober, encoder *media.Encoder, log zerolog.Logger) *Composer {
	return &Composer{
		prober:  prober,
		encoder: encoder,
		log:     log.With().Str("component", "compose").Logger(),
	}
}

// Compose probes both inputs, plans the loop schedule, and renders the
// duration-matched video at outPath. A missing or unreadable background is
// fatal, not retried.
func (c *Composer) Compose(ctx context.Context, backgroundPath, narrationPath, outPath string) (Plan, error) {
	if _, err := os.Stat(backgroundPath); err != nil {
		return Plan{}, fmt.Errorf("background clip unreadable: %w", err)
	}

	narration, err := c.prober.Probe(ctx, narrationPath)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to probe narration: %w", err)
	}
	background, err := c.prober.Probe(ctx, backgroundPath)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to probe background: %w", err)
	}

	plan, err := PlanComposition(narration.Duration, background.Duration)
	if err != nil {
		return Plan{}, err
	}

	c.log.Info().
		Int("loops", plan.Loops).
		Dur("partial", plan.Partial).
		Dur("target", plan.TargetDur).
		Msg("composing duration-matched video")

	if err := c.encoder.LoopToDuration(ctx, backgroundPath, narrationPath, plan.TargetDur, outPath); err != nil {
		return plan, err
	}
	return plan, nil
}
