// Package classifier talks to the external frame classification service.
package classifier

import (
	"context"
	"strings"

	"github.com/vzahanych/violence-watch/internal/video"
)

// ViolenceLabel is the label the model emits for a violent frame
const ViolenceLabel = "violence"

// Prediction is the classifier's verdict for one frame
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"`
}

// Classifier labels frames
type Classifier interface {
	Predict(ctx context.Context, frame *video.Frame) (Prediction, error)
}

// IsViolent reports whether label is the violence label, ignoring case
func IsViolent(label string) bool {
	return MatchesLabel(label, ViolenceLabel)
}

// MatchesLabel compares a predicted label to target, ignoring case
func MatchesLabel(label, target string) bool {
	return strings.EqualFold(label, target)
}

// Func adapts a plain function to the Classifier interface
type Func func(ctx context.Context, frame *video.Frame) (Prediction, error)

// Predict calls f
func (f Func) Predict(ctx context.Context, frame *video.Frame) (Prediction, error) {
	return f(ctx, frame)
}
