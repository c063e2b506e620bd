// Command replay runs a recorded landmark stream through the swing detector
// and prints the phase of every frame followed by a per-phase summary.
//
// Input is JSON lines. Each line is either a frame object
// {"landmarks": ..., "ball_position": {"x": .., "y": ..}} or a bare
// landmark list/object as produced by MediaPipe.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/san-kum/golf-swing-cv/server/swing"
	"go.uber.org/zap"
)

type replayConfig struct {
	Input         string
	Width         int
	Height        int
	MinVisibility float64
	Detector      swing.Config
	OutputJSON    string
	Quiet         bool
	Debug         bool
}

type recordedFrame struct {
	Landmarks    pose.Frame  `json:"landmarks"`
	BallPosition *pose.Point `json:"ball_position"`
}

func main() {
	config := parseFlags()

	logger := newLogger(config.Debug)
	defer logger.Sync()

	if err := run(config, os.Stdout, logger); err != nil {
		logger.Fatal("Replay failed", zap.Error(err))
	}
}

func parseFlags() replayConfig {
	config := replayConfig{Detector: swing.DefaultConfig()}

	flag.StringVar(&config.Input, "input", "-", "JSON-lines landmark recording, - for stdin")
	flag.IntVar(&config.Width, "width", 1280, "frame width in pixels")
	flag.IntVar(&config.Height, "height", 720, "frame height in pixels")
	flag.Float64Var(&config.MinVisibility, "min-visibility", 0.5, "landmark visibility cutoff")
	flag.IntVar(&config.Detector.HistoryLength, "history", config.Detector.HistoryLength, "rolling window length")
	flag.Float64Var(&config.Detector.StabilityStdThreshold, "stability-std", config.Detector.StabilityStdThreshold, "wrist std below which the player is still")
	flag.Float64Var(&config.Detector.WristMovementThreshold, "wrist-movement", config.Detector.WristMovementThreshold, "wrist rise that starts the backswing")
	flag.Float64Var(&config.Detector.ShoulderZThreshold, "shoulder-z", config.Detector.ShoulderZThreshold, "shoulder depth asymmetry change")
	flag.Float64Var(&config.Detector.DownswingWristThreshold, "downswing-wrist", config.Detector.DownswingWristThreshold, "wrist drop below the peak")
	flag.Float64Var(&config.Detector.OriginalSpotThreshold, "original-spot", config.Detector.OriginalSpotThreshold, "distance to address height counted as impact")
	flag.Float64Var(&config.Detector.SlopeEpsilon, "slope-epsilon", config.Detector.SlopeEpsilon, "minimum window slope treated as movement")
	flag.StringVar(&config.OutputJSON, "json", "", "write the swing sequence as JSON to this file")
	flag.BoolVar(&config.Quiet, "quiet", false, "print only phase changes")
	flag.BoolVar(&config.Debug, "debug", false, "debug logging")
	flag.Parse()

	return config
}

func newLogger(debug bool) *zap.Logger {
	zapConfig := zap.NewDevelopmentConfig()
	if !debug {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.OutputPaths = []string{"stderr"}

	logger, err := zapConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(config replayConfig, out io.Writer, logger *zap.Logger) error {
	detector, err := swing.NewDetector(config.Detector)
	if err != nil {
		return err
	}

	input := io.Reader(os.Stdin)
	if config.Input != "-" {
		file, err := os.Open(config.Input)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		defer file.Close()
		input = file
	}

	extractor := pose.NewExtractor(config.MinVisibility)
	sequence := swing.NewSequence(config.Width, config.Height)

	table := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "frame\tphase\tleft_wrist_y\tright_wrist_y\tshoulder_gap")

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	frames, skipped := 0, 0
	previous := detector.Phase()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index := frames
		frames++

		frame, err := decodeFrame([]byte(line))
		if err != nil {
			return fmt.Errorf("line %d: %w", frames, err)
		}

		sample, err := extractor.Extract(frame.Landmarks, frame.BallPosition)
		if err != nil {
			skipped++
			logger.Debug("Skipping frame", zap.Int("frame", index), zap.Error(err))
			continue
		}

		phase := detector.Update(sample)
		sequence.Append(phase, sample)

		if !config.Quiet || phase != previous {
			sig := sample.Signals
			fmt.Fprintf(table, "%d\t%s\t%.4f\t%.4f\t%.4f\n", index, phase,
				sig.LeftWristY, sig.RightWristY, math.Abs(sig.LeftShoulderZ-sig.RightShoulderZ))
		}
		previous = phase

		if phase.Terminal() {
			logger.Info("Swing reached end phase", zap.Int("frame", index))
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	table.Flush()

	records, resultErr := sequence.Result()
	if resultErr != nil {
		logger.Warn("Recording ended before the swing finished", zap.Stringer("phase", detector.Phase()))
	}

	fmt.Fprintf(out, "\n%d frames, %d skipped, %d recorded\n", frames, skipped, len(records))
	summary := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(summary, "phase\tfirst\tlast\tframes")
	for _, span := range swing.Summarize(records) {
		fmt.Fprintf(summary, "%s\t%d\t%d\t%d\n", span.Phase, span.StartFrame, span.EndFrame, span.Frames)
	}
	summary.Flush()

	if config.OutputJSON != "" {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(config.OutputJSON, data, 0o644); err != nil {
			return fmt.Errorf("write sequence: %w", err)
		}
		logger.Info("Sequence written", zap.String("path", config.OutputJSON), zap.Int("records", len(records)))
	}

	return nil
}

func decodeFrame(line []byte) (recordedFrame, error) {
	var frame recordedFrame
	if line[0] == '{' {
		if err := json.Unmarshal(line, &frame); err != nil {
			return frame, err
		}
		if len(frame.Landmarks) > 0 {
			return frame, nil
		}
	}

	// Bare MediaPipe output without the wrapper object.
	var landmarks pose.Frame
	if err := json.Unmarshal(line, &landmarks); err != nil {
		return frame, err
	}
	return recordedFrame{Landmarks: landmarks}, nil
}
