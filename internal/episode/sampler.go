// Package episode implements the Episode Sampler (spec §4.3): carving a
// BarFrame into a set of EpisodeSpec windows for Phase 3 evaluation,
// either uniformly at random or stratified by regime tag. Shaped as a
// sliding candidate-window pass over walk-forward windows, with every
// run getting its own *rand.Rand seeded from run parameters rather than
// sharing a package-level RNG.
package episode

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/darwin-lab/strategy-evolution/internal/regime"
	"github.com/darwin-lab/strategy-evolution/pkg/domain"
)

// Mode selects how candidate windows are chosen from the frame.
type Mode string

const (
	ModeRandom             Mode = "random"
	ModeStratifiedByRegime Mode = "stratified_by_regime"
)

// Options configures one sampling pass.
type Options struct {
	Mode Mode

	// WindowBars is stratified_by_regime's fixed candidate window length.
	// Random mode falls back to it (as a fixed length) only when
	// MinWindowBars/MaxWindowBars are both left at zero.
	WindowBars int

	// MinWindowBars/MaxWindowBars bound random mode's per-episode window
	// length: each episode draws its own length uniformly from
	// [MinWindowBars, MaxWindowBars] (spec §4.3: "length uniformly drawn
	// from [min_months, max_months]" -- callers convert months to bars
	// with MonthsToBars before populating these).
	MinWindowBars int
	MaxWindowBars int

	// MinBars floors the sampled random-mode window length (spec §4.3's
	// "min_bars bar count guard").
	MinBars int

	Count    int
	StepBars int   // candidate stride for stratified_by_regime; ignored for random
	Seed     int64 // seeds this call's RNG; the same seed yields the same windows
}

// barInterval estimates frame's average bar spacing from its first and
// last timestamps. Returns 0 for frames too short to estimate from.
func barInterval(frame *domain.BarFrame) time.Duration {
	if frame.Len() < 2 {
		return 0
	}
	span := frame.TimestampOf(frame.Len() - 1).Sub(frame.TimestampOf(0))
	return span / time.Duration(frame.Len()-1)
}

// MonthsToBars converts a calendar-month count into a bar count, using
// frame's observed average bar spacing and treating a month as 30 days.
// Returns 0 if frame has too few bars to estimate spacing from.
func MonthsToBars(frame *domain.BarFrame, months int) int {
	interval := barInterval(frame)
	if interval <= 0 || months <= 0 {
		return 0
	}
	const month = 30 * 24 * time.Hour
	return int(time.Duration(months) * month / interval)
}

// Sampler carves EpisodeSpec windows out of a BarFrame.
type Sampler struct {
	tagger *regime.Tagger
}

// New creates a Sampler that tags each candidate window with tagger.
func New(tagger *regime.Tagger) *Sampler {
	return &Sampler{tagger: tagger}
}

// Sample returns opts.Count episode windows from frame. Determinism
// comes entirely from opts.Seed — the same frame, options, and seed
// always produce the same windows in the same order.
func (s *Sampler) Sample(frame *domain.BarFrame, opts Options) ([]domain.EpisodeSpec, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("episode: count must be positive, got %d", opts.Count)
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	switch opts.Mode {
	case ModeStratifiedByRegime:
		if opts.WindowBars <= 0 {
			return nil, fmt.Errorf("episode: window_bars must be positive, got %d", opts.WindowBars)
		}
		if frame.Len() < opts.WindowBars {
			return nil, fmt.Errorf("episode: frame has %d bars, need at least %d", frame.Len(), opts.WindowBars)
		}
		return s.sampleStratified(frame, opts, rng)
	case ModeRandom, "":
		return s.sampleRandom(frame, opts, rng)
	default:
		return nil, fmt.Errorf("episode: unknown sampling mode %q", opts.Mode)
	}
}

// sampleRandom draws opts.Count disjoint windows, each of a length drawn
// uniformly from [MinWindowBars, MaxWindowBars] and floored at MinBars
// (spec §4.3: "N disjoint windows of length uniformly drawn from
// [min_months, max_months] with min_bars guard"). Callers that leave
// MinWindowBars/MaxWindowBars at zero get a fixed-length window equal to
// WindowBars, matching stratified_by_regime's single-length shape.
func (s *Sampler) sampleRandom(frame *domain.BarFrame, opts Options, rng *rand.Rand) ([]domain.EpisodeSpec, error) {
	minLen, maxLen := opts.MinWindowBars, opts.MaxWindowBars
	if minLen <= 0 && maxLen <= 0 {
		minLen, maxLen = opts.WindowBars, opts.WindowBars
	}
	if opts.MinBars > minLen {
		minLen = opts.MinBars
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	if minLen <= 0 {
		return nil, fmt.Errorf("episode: random mode requires a positive window length, got min=%d max=%d", minLen, maxLen)
	}
	if frame.Len() < minLen {
		return nil, fmt.Errorf("episode: frame has %d bars, need at least %d", frame.Len(), minLen)
	}

	type interval struct{ start, end int }
	var chosen []interval
	const maxAttemptsPerEpisode = 1000

	specs := make([]domain.EpisodeSpec, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		length := minLen
		if maxLen > minLen {
			length = minLen + rng.Intn(maxLen-minLen+1)
		}
		if length > frame.Len() {
			length = frame.Len()
		}
		maxStart := frame.Len() - length

		placed := false
		for attempt := 0; attempt < maxAttemptsPerEpisode; attempt++ {
			start := 0
			if maxStart > 0 {
				start = rng.Intn(maxStart + 1)
			}
			end := start + length
			overlaps := false
			for _, iv := range chosen {
				if start < iv.end && iv.start < end {
					overlaps = true
					break
				}
			}
			if !overlaps {
				chosen = append(chosen, interval{start, end})
				specs = append(specs, s.buildSpec(frame, start, length, fmt.Sprintf("random_%d", i)))
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("episode: could not place a disjoint %d-bar window for episode %d after %d attempts", length, i, maxAttemptsPerEpisode)
		}
	}
	return specs, nil
}

// sampleStratified slides a candidate window across the frame, tags
// each candidate, groups candidates by their regime identity tuple, then
// round-robins across groups (each group's pick chosen uniformly at
// random from its own members) until opts.Count windows are selected.
// This guarantees coverage spreads across whatever regimes the frame
// actually contains instead of collapsing onto whichever is most common.
func (s *Sampler) sampleStratified(frame *domain.BarFrame, opts Options, rng *rand.Rand) ([]domain.EpisodeSpec, error) {
	step := opts.StepBars
	if step <= 0 {
		step = opts.WindowBars
	}

	type candidate struct {
		start int
		tags  domain.RegimeTags
	}
	groups := make(map[[3]string][]candidate)
	var order [][3]string

	for start := 0; start+opts.WindowBars <= frame.Len(); start += step {
		sub := frame.Slice(start, start+opts.WindowBars)
		tags := s.tagger.Tag(sub)
		key := tags.Regime()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], candidate{start: start, tags: tags})
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("episode: no candidate windows fit in a frame of %d bars", frame.Len())
	}
	sort.Slice(order, func(i, j int) bool { return fmt.Sprint(order[i]) < fmt.Sprint(order[j]) })

	specs := make([]domain.EpisodeSpec, 0, opts.Count)
	gi := 0
	for len(specs) < opts.Count {
		key := order[gi%len(order)]
		members := groups[key]
		pick := members[rng.Intn(len(members))]
		label := fmt.Sprintf("stratified_%s_%d", joinRegime(key), len(specs))
		specs = append(specs, s.buildSpec(frame, pick.start, opts.WindowBars, label))
		gi++
	}
	return specs, nil
}

func joinRegime(key [3]string) string {
	return key[0] + "_" + key[1] + "_" + key[2]
}

func (s *Sampler) buildSpec(frame *domain.BarFrame, start, windowBars int, label string) domain.EpisodeSpec {
	end := start + windowBars
	sub := frame.Slice(start, end)
	tags := s.tagger.Tag(sub)
	return domain.EpisodeSpec{
		Label:   label,
		StartTS: frame.TimestampOf(start),
		EndTS:   frame.TimestampOf(end - 1),
		Tags:    tags,
	}
}
