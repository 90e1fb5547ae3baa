package delay

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	watermarkFloor    = 500 * time.Millisecond
	watermarkFactor   = 0.3
	progressiveAbove  = 100
	progressiveGrowth = 0.5
)

// Config mirrors the rate settings of the dispatcher.
type Config struct {
	Base              time.Duration
	Jitter            time.Duration
	Randomize         bool
	WatermarkOverride bool
	Progressive       bool
}

// Params describes the position of the next dispatch within a run.
type Params struct {
	Watermarking bool
	Index        int
	Total        int
}

type Policy struct {
	cfg   Config
	randN func(n int64) int64
}

func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg, randN: rand.Int64N}
}

// Next returns the wait before the next dispatch. The first matching rule wins:
// watermark override, progressive scaling, fixed base, base plus jitter.
func (p *Policy) Next(params Params) time.Duration {
	base := p.cfg.Base

	if params.Watermarking && p.cfg.WatermarkOverride {
		d := time.Duration(float64(base) * watermarkFactor)
		return max(watermarkFloor, d)
	}

	if p.cfg.Progressive && params.Total > progressiveAbove {
		multiplier := 1 + (float64(params.Index)/float64(params.Total))*progressiveGrowth
		ms := math.Floor(float64(base.Milliseconds()) * multiplier)
		return time.Duration(ms) * time.Millisecond
	}

	if !p.cfg.Randomize || p.cfg.Jitter <= 0 {
		return base
	}

	jitterMs := p.cfg.Jitter.Milliseconds()
	if jitterMs <= 0 {
		return base
	}
	return base + time.Duration(p.randN(jitterMs))*time.Millisecond
}
