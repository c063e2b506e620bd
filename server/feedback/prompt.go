// Package feedback turns a finished swing sequence into coaching feedback
// using an external language model.
package feedback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/san-kum/golf-swing-cv/server/swing"
)

// SwingData is the payload embedded in the coaching prompt.
type SwingData struct {
	Club          string         `json:"club"`
	View          string         `json:"view"`
	SwingSequence []swing.Record `json:"swing_sequence"`
}

// Feedback is the structured answer expected back from the model.
type Feedback struct {
	OverallFeedback string   `json:"overall_feedback"`
	SwingGrade      int      `json:"swing_grade"`
	Drills          []string `json:"drills"`
}

const promptTemplate = `You are a golf coach. Here's a player's %s swing data captured frame-by-frame using a %s:
%s

Please analyze the swing and respond briefly in **JSON format** with the following fields:
- "overall_feedback": A concise summary highlighting key strengths or weaknesses observed in the swing. Focus on the most notable aspects, whether positive or negative.
- "swing_grade": A numerical score (0-100) reflecting the overall quality of the swing.
- "drills": A list of 1-2 targeted drills that address the most significant areas for improvement.

Respond with only a valid JSON object. Do not wrap it in code block formatting, no explanation or extra commentary.`

// BuildPrompt renders the coaching prompt for data.
func BuildPrompt(data SwingData) (string, error) {
	if len(data.SwingSequence) == 0 {
		return "", fmt.Errorf("empty swing sequence")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal swing data: %w", err)
	}

	club := data.Club
	if club == "" {
		club = "unknown club"
	}
	view := data.View
	if view == "" {
		view = "front-facing"
	}

	return fmt.Sprintf(promptTemplate, view, club, payload), nil
}

// ParseFeedback decodes a model response, tolerating a markdown code fence
// around the JSON.
func ParseFeedback(raw string) (*Feedback, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return nil, fmt.Errorf("empty feedback response")
	}

	var fb Feedback
	if err := json.Unmarshal([]byte(text), &fb); err != nil {
		return nil, fmt.Errorf("failed to decode feedback: %w", err)
	}

	if fb.SwingGrade < 0 || fb.SwingGrade > 100 {
		return nil, fmt.Errorf("swing grade %d out of range", fb.SwingGrade)
	}

	return &fb, nil
}
