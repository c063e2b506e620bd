package swing

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RollingWindow keeps the most recent samples of one signal. Once full, each
// Push evicts the oldest sample.
type RollingWindow struct {
	buf   []float64
	start int
	size  int
}

// NewRollingWindow creates a window holding at most capacity samples.
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{buf: make([]float64, capacity)}
}

func (w *RollingWindow) Push(v float64) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

func (w *RollingWindow) Len() int   { return w.size }
func (w *RollingWindow) Cap() int   { return len(w.buf) }
func (w *RollingWindow) Full() bool { return w.size == len(w.buf) }

// Values returns the current contents, oldest first.
func (w *RollingWindow) Values() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *RollingWindow) Mean() float64 {
	if w.size == 0 {
		return 0
	}
	return stat.Mean(w.Values(), nil)
}

// StdDev is the population standard deviation of the window.
func (w *RollingWindow) StdDev() float64 {
	if w.size == 0 {
		return 0
	}
	return math.Sqrt(stat.PopVariance(w.Values(), nil))
}

// Slope is the mean of consecutive differences. Positive means the signal
// is increasing, which for image y means the wrists are moving down.
func (w *RollingWindow) Slope() float64 {
	if w.size < 2 {
		return 0
	}
	values := w.Values()
	var sum float64
	for i := 1; i < len(values); i++ {
		sum += values[i] - values[i-1]
	}
	return sum / float64(len(values)-1)
}

// Stats captures the window statistics the detector needs for one frame.
type Stats struct {
	Mean   float64
	StdDev float64
	Slope  float64
}

func (w *RollingWindow) Stats() Stats {
	return Stats{Mean: w.Mean(), StdDev: w.StdDev(), Slope: w.Slope()}
}
