package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/mdobak/go-xerrors"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Generator produces coaching feedback for a finished swing.
type Generator interface {
	Generate(ctx context.Context, data SwingData) (*Feedback, error)
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type GeminiGenerator struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, data SwingData) (*Feedback, error) {
	prompt, err := BuildPrompt(data)
	if err != nil {
		return nil, err
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.config.Temperature),
		ResponseMIMEType: "application/json",
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.config.Model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		config,
	)
	if err != nil {
		err = xerrors.New(err)
		g.logger.Error("Gemini request failed",
			zap.String("model", g.config.Model),
			zap.Error(err))
		return nil, fmt.Errorf("failed to generate feedback: %w", err)
	}

	g.logger.Debug("Gemini feedback received",
		zap.String("model", g.config.Model),
		zap.Int("frames", len(data.SwingSequence)),
		zap.Duration("latency", time.Since(start)))

	return ParseFeedback(resp.Text())
}
