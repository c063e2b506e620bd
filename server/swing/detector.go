package swing

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/golf-swing-cv/server/pose"
)

// Config holds the detector thresholds. All values are in normalized image
// units except HistoryLength, which is a frame count.
type Config struct {
	// HistoryLength is the rolling window size per wrist.
	HistoryLength int `json:"history_length"`
	// StabilityStdThreshold is the wrist-height standard deviation below
	// which the player counts as still.
	StabilityStdThreshold float64 `json:"stability_std_threshold"`
	// WristMovementThreshold is how far both wrists must leave their rest
	// height to start the backswing.
	WristMovementThreshold float64 `json:"wrist_movement_threshold"`
	// ShoulderZThreshold bounds the change in shoulder depth asymmetry that
	// signals rotation away from, and back toward, the address position.
	ShoulderZThreshold float64 `json:"shoulder_z_threshold"`
	// DownswingWristThreshold is how far the wrists must drop back below
	// their backswing peak.
	DownswingWristThreshold float64 `json:"downswing_wrist_threshold"`
	// OriginalSpotThreshold is the distance from the rest height at which
	// the wrists count as back at impact.
	OriginalSpotThreshold float64 `json:"original_spot_threshold"`
	// SlopeEpsilon is the minimum window slope treated as real movement.
	SlopeEpsilon float64 `json:"slope_epsilon"`
}

func DefaultConfig() Config {
	return Config{
		HistoryLength:           10,
		StabilityStdThreshold:   0.003,
		WristMovementThreshold:  0.02,
		ShoulderZThreshold:      0.1,
		DownswingWristThreshold: 0.05,
		OriginalSpotThreshold:   0.03,
		SlopeEpsilon:            0.002,
	}
}

func (c Config) Validate() error {
	var errs []string

	if c.HistoryLength < 2 {
		errs = append(errs, "history length must be at least 2")
	}
	for name, v := range map[string]float64{
		"stability std threshold":   c.StabilityStdThreshold,
		"wrist movement threshold":  c.WristMovementThreshold,
		"shoulder z threshold":      c.ShoulderZThreshold,
		"downswing wrist threshold": c.DownswingWristThreshold,
		"original spot threshold":   c.OriginalSpotThreshold,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.SlopeEpsilon < 0 || math.IsNaN(c.SlopeEpsilon) {
		errs = append(errs, "slope epsilon must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid detector config: %s", strings.Join(errs, ", "))
	}
	return nil
}

// WristPair is a left/right pair of wrist heights.
type WristPair struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Baseline is the resting posture captured when setup is detected.
type Baseline struct {
	Wrists      WristPair `json:"wrists"`
	ShoulderGap float64   `json:"shoulder_gap"`
}

// State is the detector's mutable record. Nil pointers mean the value has
// not been captured yet.
type State struct {
	Phase    Phase      `json:"phase"`
	Baseline *Baseline  `json:"baseline,omitempty"`
	Peak     *WristPair `json:"peak,omitempty"`
	Prev     *WristPair `json:"prev,omitempty"`
}

// Observation is one frame as seen by the transition rules.
type Observation struct {
	Wrists      WristPair
	ShoulderGap float64
	Left        Stats
	Right       Stats
	// Ready is false until both windows are full.
	Ready bool
}

// Next applies one frame to st and returns the new state. It makes at most
// one forward transition and never moves back.
func (c Config) Next(st State, obs Observation) State {
	if st.Phase.Terminal() {
		return st
	}

	cur := obs.Wrists
	prev := st.Prev
	st.Prev = &cur

	if !obs.Ready {
		return st
	}

	switch st.Phase {
	case PhaseWaiting:
		if c.still(obs) {
			st.Baseline = &Baseline{
				Wrists:      WristPair{Left: obs.Left.Mean, Right: obs.Right.Mean},
				ShoulderGap: obs.ShoulderGap,
			}
			st.Phase = PhaseSetup
		}

	case PhaseSetup:
		if st.Baseline == nil {
			return st
		}
		base := st.Baseline
		leftMoved := math.Abs(base.Wrists.Left-cur.Left) > c.WristMovementThreshold
		rightMoved := math.Abs(base.Wrists.Right-cur.Right) > c.WristMovementThreshold
		rotated := obs.ShoulderGap-base.ShoulderGap > c.ShoulderZThreshold

		if leftMoved && rightMoved && rotated {
			peak := cur
			st.Peak = &peak
			st.Phase = PhaseBackswing
		}

	case PhaseBackswing:
		if st.Baseline == nil || st.Peak == nil {
			return st
		}
		// Smaller y is higher on screen, so the peak is the running minimum.
		peak := WristPair{
			Left:  math.Min(st.Peak.Left, cur.Left),
			Right: math.Min(st.Peak.Right, cur.Right),
		}
		st.Peak = &peak

		descending := c.descending(obs)
		dropped := cur.Left-peak.Left > c.DownswingWristThreshold &&
			cur.Right-peak.Right > c.DownswingWristThreshold
		unwound := math.Abs(obs.ShoulderGap-st.Baseline.ShoulderGap) < c.ShoulderZThreshold

		if descending && dropped && unwound {
			st.Phase = PhaseDownswing
		}

	case PhaseDownswing:
		if st.Baseline == nil || st.Peak == nil {
			return st
		}
		base := st.Baseline.Wrists
		atAddress := math.Abs(cur.Left-base.Left) < c.OriginalSpotThreshold &&
			math.Abs(cur.Right-base.Right) < c.OriginalSpotThreshold

		rising := false
		if prev != nil {
			rising = cur.Left < prev.Left && cur.Left < st.Peak.Left+c.DownswingWristThreshold &&
				cur.Right < prev.Right && cur.Right < st.Peak.Right+c.DownswingWristThreshold
		}

		if atAddress || rising {
			st.Phase = PhaseFollowThrough
		}

	case PhaseFollowThrough:
		if c.still(obs) || c.descending(obs) {
			st.Phase = PhaseEnd
		}
	}

	return st
}

func (c Config) still(obs Observation) bool {
	return obs.Left.StdDev < c.StabilityStdThreshold && obs.Right.StdDev < c.StabilityStdThreshold
}

func (c Config) descending(obs Observation) bool {
	return obs.Left.Slope > c.SlopeEpsilon && obs.Right.Slope > c.SlopeEpsilon
}

// Detector runs the phase state machine over a stream of samples. It is not
// safe for concurrent use; one detector belongs to one recording.
type Detector struct {
	cfg   Config
	state State
	left  *RollingWindow
	right *RollingWindow
}

func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:   cfg,
		left:  NewRollingWindow(cfg.HistoryLength),
		right: NewRollingWindow(cfg.HistoryLength),
	}, nil
}

// Update consumes one sample and returns the current phase. Once the end
// phase is reached, further samples are ignored.
func (d *Detector) Update(sample pose.FeatureSample) Phase {
	if d.state.Phase.Terminal() {
		return d.state.Phase
	}

	sig := sample.Signals
	d.left.Push(sig.LeftWristY)
	d.right.Push(sig.RightWristY)

	obs := Observation{
		Wrists:      WristPair{Left: sig.LeftWristY, Right: sig.RightWristY},
		ShoulderGap: math.Abs(sig.LeftShoulderZ - sig.RightShoulderZ),
		Ready:       d.left.Full() && d.right.Full(),
	}
	if obs.Ready {
		obs.Left = d.left.Stats()
		obs.Right = d.right.Stats()
	}

	d.state = d.cfg.Next(d.state, obs)
	return d.state.Phase
}

func (d *Detector) Phase() Phase { return d.state.Phase }

// State returns a copy of the detector state.
func (d *Detector) State() State { return d.state }

func (d *Detector) Config() Config { return d.cfg }

// Ready reports whether enough samples have been seen to evaluate transitions.
func (d *Detector) Ready() bool {
	return d.left.Full() && d.right.Full()
}

// Len is the number of samples currently held per wrist window.
func (d *Detector) Len() int {
	return d.left.Len()
}
