package regime

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
)

func frameFromCloses(closes []float64) *domain.BarFrame {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      d,
			High:      d.Add(decimal.NewFromFloat(0.1)),
			Low:       d.Sub(decimal.NewFromFloat(0.1)),
			Close:     d,
			Volume:    decimal.NewFromFloat(100),
		}
	}
	return domain.NewBarFrame("TEST", bars)
}

func TestTag_ClassifiesStrongUptrend(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 100 + float64(i)*2
	}
	tagger := New(nil, DefaultThresholds())
	tags := tagger.Tag(frameFromCloses(closes))
	if tags.Trend != "up" {
		t.Fatalf("expected up trend, got %q", tags.Trend)
	}
}

func TestTag_ClassifiesSidewaysChop(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100.01
		} else {
			closes[i] = 99.99
		}
	}
	tagger := New(nil, DefaultThresholds())
	tags := tagger.Tag(frameFromCloses(closes))
	if tags.Trend != "flat" {
		t.Fatalf("expected flat trend, got %q", tags.Trend)
	}
	if tags.ChopBucket != "choppy" {
		t.Fatalf("expected choppy chop bucket, got %q", tags.ChopBucket)
	}
}

func TestTag_ShortFrameIsUnknown(t *testing.T) {
	tagger := New(nil, DefaultThresholds())
	tags := tagger.Tag(frameFromCloses([]float64{100}))
	if tags.Trend != "unknown" || tags.VolBucket != "unknown" {
		t.Fatalf("expected unknown classification for a single-bar frame, got %+v", tags)
	}
}

func TestTag_DetectsEventDayOnLargeSingleBarMove(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%3)*0.01
	}
	closes[30] = 100 * 1.5 // one outsized jump
	tagger := New(nil, DefaultThresholds())
	tags := tagger.Tag(frameFromCloses(closes))
	if !tags.EventDay {
		t.Fatalf("expected event_day=true after an outsized single-bar move")
	}
}

func TestRegime_IdentityTupleExcludesEventDay(t *testing.T) {
	tags := domain.RegimeTags{Trend: "up", VolBucket: "high", ChopBucket: "trending", EventDay: true}
	got := tags.Regime()
	want := [3]string{"up", "high", "trending"}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
