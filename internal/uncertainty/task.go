package uncertainty

import (
	"fmt"
	"strings"
)

// TaskType selects how per-pass outputs are interpreted.
type TaskType string

const (
	SequenceClassification TaskType = "sequence-classification"
	Regression             TaskType = "regression"
)

// ParseTaskType accepts the canonical names plus underscore spellings.
// An empty string selects sequence classification.
func ParseTaskType(s string) (TaskType, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "", string(SequenceClassification), "classification":
		return SequenceClassification, nil
	case string(Regression):
		return Regression, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTask, s)
	}
}

func (t TaskType) String() string { return string(t) }
