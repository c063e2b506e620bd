package swing

import (
	"math/rand"
	"testing"

	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(wristY, shoulderGap float64) pose.FeatureSample {
	return pose.FeatureSample{Signals: pose.Signals{
		LeftWristY:     wristY,
		RightWristY:    wristY,
		LeftShoulderZ:  shoulderGap,
		RightShoulderZ: 0,
	}}
}

type scriptedFrame struct {
	wristY, gap float64
	want        Phase
}

// scriptedSwing is a clean swing that walks the default config through
// every phase.
func scriptedSwing() []scriptedFrame {
	var frames []scriptedFrame
	for i := 0; i < 9; i++ {
		frames = append(frames, scriptedFrame{0.50, 0.05, PhaseWaiting})
	}
	frames = append(frames,
		scriptedFrame{0.50, 0.05, PhaseSetup},
		scriptedFrame{0.47, 0.20, PhaseBackswing},
		scriptedFrame{0.40, 0.25, PhaseBackswing},
		scriptedFrame{0.33, 0.25, PhaseBackswing},
		scriptedFrame{0.26, 0.25, PhaseBackswing},
		scriptedFrame{0.20, 0.25, PhaseBackswing},
		scriptedFrame{0.24, 0.10, PhaseBackswing},
		scriptedFrame{0.28, 0.10, PhaseBackswing},
		scriptedFrame{0.32, 0.10, PhaseBackswing},
		scriptedFrame{0.36, 0.10, PhaseBackswing},
		scriptedFrame{0.40, 0.10, PhaseBackswing},
		scriptedFrame{0.44, 0.10, PhaseDownswing},
		scriptedFrame{0.48, 0.10, PhaseFollowThrough},
		scriptedFrame{0.40, 0.12, PhaseEnd},
	)
	return frames
}

func newTestDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := NewDetector(cfg)
	require.NoError(t, err)
	return d
}

func TestDetectorScriptedSwing(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())

	for i, f := range scriptedSwing() {
		got := d.Update(sample(f.wristY, f.gap))
		require.Equal(t, f.want, got, "frame %d", i)
	}

	st := d.State()
	require.NotNil(t, st.Baseline)
	assert.InDelta(t, 0.50, st.Baseline.Wrists.Left, 1e-9)
	assert.InDelta(t, 0.05, st.Baseline.ShoulderGap, 1e-9)
	require.NotNil(t, st.Peak)
	assert.InDelta(t, 0.20, st.Peak.Left, 1e-9)
}

func TestDetectorEndIsSticky(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	for _, f := range scriptedSwing() {
		d.Update(sample(f.wristY, f.gap))
	}
	require.Equal(t, PhaseEnd, d.Phase())

	before := d.State()
	for _, y := range []float64{0.1, 0.9, 0.5, 0.5, 0.5} {
		assert.Equal(t, PhaseEnd, d.Update(sample(y, 0.7)))
	}
	assert.Equal(t, before, d.State())
}

func TestDetectorStableNoiseEntersSetup(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())

	for i := 0; i < 9; i++ {
		noise := 0.0005
		if i%2 == 0 {
			noise = -noise
		}
		assert.Equal(t, PhaseWaiting, d.Update(sample(0.50+noise, 0.05)))
		assert.False(t, d.Ready())
	}

	assert.Equal(t, PhaseSetup, d.Update(sample(0.5004, 0.05)))
	assert.True(t, d.Ready())

	st := d.State()
	require.NotNil(t, st.Baseline)
	assert.InDelta(t, 0.50, st.Baseline.Wrists.Left, 1e-3)
	assert.InDelta(t, 0.50, st.Baseline.Wrists.Right, 1e-3)

	// Wrists lift to 0.47 with the shoulders turning.
	assert.Equal(t, PhaseBackswing, d.Update(sample(0.47, 0.20)))
}

func TestDetectorBackswingNeedsRotation(t *testing.T) {
	d := newTestDetector(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		d.Update(sample(0.50, 0.05))
	}
	require.Equal(t, PhaseSetup, d.Phase())

	assert.Equal(t, PhaseSetup, d.Update(sample(0.47, 0.10)), "wrists moved but shoulders did not turn")
	assert.Equal(t, PhaseSetup, d.Update(sample(0.49, 0.30)), "shoulders turned but wrists stayed")
	assert.Equal(t, PhaseBackswing, d.Update(sample(0.47, 0.30)))
}

func TestDetectorWaitsForFullWindow(t *testing.T) {
	for _, n := range []int{2, 5, 10} {
		cfg := DefaultConfig()
		cfg.HistoryLength = n
		d := newTestDetector(t, cfg)

		for i := 0; i < n-1; i++ {
			assert.Equal(t, PhaseWaiting, d.Update(sample(0.5, 0.05)), "history %d frame %d", n, i)
			assert.Equal(t, i+1, d.Len())
		}
		assert.Equal(t, PhaseSetup, d.Update(sample(0.5, 0.05)), "history %d", n)
	}
}

func randomSignal(rng *rand.Rand, n int) []pose.FeatureSample {
	out := make([]pose.FeatureSample, 0, n)
	y, gap := 0.5, 0.05
	for i := 0; i < n; i++ {
		switch {
		case rng.Intn(4) == 0:
			// hold still
		default:
			y += (rng.Float64() - 0.5) * 0.08
			gap += (rng.Float64() - 0.5) * 0.1
		}
		out = append(out, pose.FeatureSample{Signals: pose.Signals{
			LeftWristY:     y + (rng.Float64()-0.5)*0.001,
			RightWristY:    y + (rng.Float64()-0.5)*0.001,
			LeftShoulderZ:  gap,
			RightShoulderZ: 0,
		}})
	}
	return out
}

func TestDetectorPhasesNeverGoBack(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		d := newTestDetector(t, DefaultConfig())
		last := PhaseWaiting
		for _, s := range randomSignal(rng, 120) {
			got := d.Update(s)
			require.GreaterOrEqual(t, got, last)
			require.LessOrEqual(t, got-last, Phase(1), "at most one transition per frame")
			if last == PhaseEnd {
				require.Equal(t, PhaseEnd, got)
			}
			last = got
		}
	}
}

func TestDetectorDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	input := randomSignal(rng, 300)
	for _, f := range scriptedSwing() {
		input = append(input, sample(f.wristY, f.gap))
	}

	run := func() []Phase {
		d := newTestDetector(t, DefaultConfig())
		phases := make([]Phase, 0, len(input))
		for _, s := range input {
			phases = append(phases, d.Update(s))
		}
		return phases
	}

	assert.Equal(t, run(), run())
}

func readyObs(wrist, gap, slope, std float64) Observation {
	return Observation{
		Wrists:      WristPair{Left: wrist, Right: wrist},
		ShoulderGap: gap,
		Left:        Stats{Mean: wrist, StdDev: std, Slope: slope},
		Right:       Stats{Mean: wrist, StdDev: std, Slope: slope},
		Ready:       true,
	}
}

func backswingState() State {
	return State{
		Phase:    PhaseBackswing,
		Baseline: &Baseline{Wrists: WristPair{0.5, 0.5}, ShoulderGap: 0.05},
		Peak:     &WristPair{0.2, 0.2},
		Prev:     &WristPair{0.28, 0.28},
	}
}

func TestNextDownswingNeedsEveryCondition(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, PhaseDownswing, cfg.Next(backswingState(), readyObs(0.30, 0.10, 0.01, 0.05)).Phase)

	t.Run("one wrist still rising", func(t *testing.T) {
		obs := readyObs(0.30, 0.10, 0.01, 0.05)
		obs.Right.Slope = -0.01
		assert.Equal(t, PhaseBackswing, cfg.Next(backswingState(), obs).Phase)
	})

	t.Run("not far enough below peak", func(t *testing.T) {
		assert.Equal(t, PhaseBackswing, cfg.Next(backswingState(), readyObs(0.22, 0.10, 0.01, 0.05)).Phase)
	})

	t.Run("shoulders still turned", func(t *testing.T) {
		assert.Equal(t, PhaseBackswing, cfg.Next(backswingState(), readyObs(0.30, 0.30, 0.01, 0.05)).Phase)
	})

	t.Run("slope inside epsilon", func(t *testing.T) {
		assert.Equal(t, PhaseBackswing, cfg.Next(backswingState(), readyObs(0.30, 0.10, 0.001, 0.05)).Phase)
	})
}

func TestNextBackswingTracksPeak(t *testing.T) {
	cfg := DefaultConfig()

	st := cfg.Next(backswingState(), readyObs(0.15, 0.3, -0.02, 0.05))
	assert.Equal(t, PhaseBackswing, st.Phase)
	assert.Equal(t, WristPair{0.15, 0.15}, *st.Peak)

	st = cfg.Next(st, readyObs(0.18, 0.3, -0.01, 0.05))
	assert.Equal(t, WristPair{0.15, 0.15}, *st.Peak)
}

func TestNextFollowThrough(t *testing.T) {
	cfg := DefaultConfig()
	downswing := func(prev *WristPair) State {
		st := backswingState()
		st.Phase = PhaseDownswing
		st.Prev = prev
		return st
	}

	t.Run("back at address", func(t *testing.T) {
		st := cfg.Next(downswing(nil), readyObs(0.51, 0.1, 0.02, 0.05))
		assert.Equal(t, PhaseFollowThrough, st.Phase)
	})

	t.Run("wrists rising past impact", func(t *testing.T) {
		st := cfg.Next(downswing(&WristPair{0.30, 0.30}), readyObs(0.24, 0.1, 0.02, 0.05))
		assert.Equal(t, PhaseFollowThrough, st.Phase)
	})

	t.Run("rising needs a previous frame", func(t *testing.T) {
		st := cfg.Next(downswing(nil), readyObs(0.24, 0.1, 0.02, 0.05))
		assert.Equal(t, PhaseDownswing, st.Phase)
		assert.Equal(t, WristPair{0.24, 0.24}, *st.Prev)
	})

	t.Run("still descending", func(t *testing.T) {
		st := cfg.Next(downswing(&WristPair{0.36, 0.36}), readyObs(0.40, 0.1, 0.02, 0.05))
		assert.Equal(t, PhaseDownswing, st.Phase)
	})
}

func TestNextEnd(t *testing.T) {
	cfg := DefaultConfig()
	follow := backswingState()
	follow.Phase = PhaseFollowThrough

	assert.Equal(t, PhaseEnd, cfg.Next(follow, readyObs(0.3, 0.1, -0.01, 0.001)).Phase, "motion stopped")
	assert.Equal(t, PhaseEnd, cfg.Next(follow, readyObs(0.3, 0.1, 0.01, 0.05)).Phase, "wrists dropping")
	assert.Equal(t, PhaseFollowThrough, cfg.Next(follow, readyObs(0.3, 0.1, -0.01, 0.05)).Phase)

	end := follow
	end.Phase = PhaseEnd
	assert.Equal(t, end, cfg.Next(end, readyObs(0.5, 0.05, 0, 0)))
}

func TestNextNotReadyOnlyTracksPrevious(t *testing.T) {
	cfg := DefaultConfig()
	obs := readyObs(0.5, 0.05, 0, 0)
	obs.Ready = false

	st := cfg.Next(State{}, obs)
	assert.Equal(t, PhaseWaiting, st.Phase)
	assert.Nil(t, st.Baseline)
	require.NotNil(t, st.Prev)
	assert.Equal(t, 0.5, st.Prev.Left)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HistoryLength = 1
	cfg.ShoulderZThreshold = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history length")
	assert.Contains(t, err.Error(), "shoulder z threshold")

	_, err = NewDetector(cfg)
	assert.Error(t, err)
}

func TestParsePhase(t *testing.T) {
	for p := PhaseWaiting; p <= PhaseEnd; p++ {
		parsed, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePhase("impact")
	assert.Error(t, err)
	assert.Equal(t, "phase(9)", Phase(9).String())
}
