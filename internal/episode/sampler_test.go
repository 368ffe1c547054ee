package episode

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/darwin-lab/strategy-evolution/internal/regime"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
)

func longFrame(n int) *domain.BarFrame {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%50 < 25 {
			price += 0.5
		} else {
			price -= 0.5
		}
		d := decimal.NewFromFloat(price)
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      d, High: d.Add(decimal.NewFromFloat(0.2)), Low: d.Sub(decimal.NewFromFloat(0.2)),
			Close: d, Volume: decimal.NewFromFloat(500),
		}
	}
	return domain.NewBarFrame("TEST", bars)
}

func TestSample_RandomIsDeterministicGivenSeed(t *testing.T) {
	frame := longFrame(1000)
	s := New(regime.New(nil, regime.DefaultThresholds()))
	opts := Options{Mode: ModeRandom, WindowBars: 50, Count: 10, Seed: 42}

	a, err := s.Sample(frame, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := s.Sample(frame, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a {
		if a[i].StartTS != b[i].StartTS {
			t.Fatalf("expected identical windows for identical seed at %d: %v vs %v", i, a[i].StartTS, b[i].StartTS)
		}
	}
}

func TestSample_RandomDiffersAcrossSeeds(t *testing.T) {
	frame := longFrame(1000)
	s := New(regime.New(nil, regime.DefaultThresholds()))

	a, _ := s.Sample(frame, Options{Mode: ModeRandom, WindowBars: 50, Count: 10, Seed: 1})
	b, _ := s.Sample(frame, Options{Mode: ModeRandom, WindowBars: 50, Count: 10, Seed: 2})

	same := true
	for i := range a {
		if a[i].StartTS != b[i].StartTS {
			same = false
		}
	}
	if same {
		t.Fatalf("expected different seeds to produce different windows")
	}
}

func TestSample_StratifiedCoversMultipleRegimes(t *testing.T) {
	frame := longFrame(2000)
	s := New(regime.New(nil, regime.DefaultThresholds()))
	opts := Options{Mode: ModeStratifiedByRegime, WindowBars: 100, StepBars: 50, Count: 20, Seed: 7}

	specs, err := s.Sample(frame, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 20 {
		t.Fatalf("expected 20 episodes, got %d", len(specs))
	}
	seen := map[[3]string]bool{}
	for _, spec := range specs {
		seen[spec.Tags.Regime()] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected stratified sampling to touch more than one regime, saw %v", seen)
	}
}

func TestSample_RejectsWindowLargerThanFrame(t *testing.T) {
	frame := longFrame(10)
	s := New(regime.New(nil, regime.DefaultThresholds()))
	_, err := s.Sample(frame, Options{Mode: ModeRandom, WindowBars: 100, Count: 1, Seed: 1})
	if err == nil {
		t.Fatalf("expected an error when window_bars exceeds the frame length")
	}
}
