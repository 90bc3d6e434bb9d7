package content

import (
	"context"
	"errors"
)

// Question is one quiz item. Answer indexes into Choices.
type Question struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Prompt   string   `json:"prompt"`
	Choices  []string `json:"choices"`
	Answer   int      `json:"answer"`
}

var (
	ErrShortSet        = errors.New("content provider returned fewer questions than requested")
	ErrInvalidQuestion = errors.New("invalid question payload")
)

// Provider supplies battle questions. Implementations must return
// exactly count items or an error, never a partial set.
type Provider interface {
	GetQuestions(ctx context.Context, count int) ([]Question, error)
}

func validateSet(qs []Question, count int) error {
	if len(qs) != count {
		return ErrShortSet
	}
	for _, q := range qs {
		if len(q.Choices) < 2 || q.Answer < 0 || q.Answer >= len(q.Choices) {
			return ErrInvalidQuestion
		}
	}
	return nil
}
