package content

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// StaticProvider serves questions from a fixed in-memory pool. Used for
// local runs and tests when no content service is configured.
type StaticProvider struct {
	mu   sync.Mutex
	pool []Question
	rng  *rand.Rand
}

func NewStaticProvider(pool []Question, seed int64) *StaticProvider {
	cp := make([]Question, len(pool))
	copy(cp, pool)
	return &StaticProvider{pool: cp, rng: rand.New(rand.NewSource(seed))}
}

// GetQuestions returns count random questions from the pool without
// repeats inside one set.
func (p *StaticProvider) GetQuestions(_ context.Context, count int) ([]Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count <= 0 || count > len(p.pool) {
		return nil, fmt.Errorf("%w: have=%d need=%d", ErrShortSet, len(p.pool), count)
	}
	idx := p.rng.Perm(len(p.pool))[:count]
	out := make([]Question, 0, count)
	for _, i := range idx {
		out = append(out, p.pool[i])
	}
	if err := validateSet(out, count); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultPool is a tiny built-in question set for development.
func DefaultPool() []Question {
	mk := func(id, prompt string, answer int, choices ...string) Question {
		return Question{ID: id, Category: "general", Prompt: prompt, Choices: choices, Answer: answer}
	}
	return []Question{
		mk("g-1", "Largest planet in the solar system?", 2, "Earth", "Saturn", "Jupiter", "Neptune"),
		mk("g-2", "H2O is the chemical formula of?", 0, "Water", "Salt", "Oxygen", "Hydrogen peroxide"),
		mk("g-3", "How many minutes in two hours?", 1, "100", "120", "140", "160"),
		mk("g-4", "Which continent is the Sahara in?", 3, "Asia", "South America", "Australia", "Africa"),
		mk("g-5", "Primary color that is not red or blue?", 1, "Green", "Yellow", "Purple", "Orange"),
		mk("g-6", "Smallest prime number?", 2, "0", "1", "2", "3"),
		mk("g-7", "Capital of Japan?", 0, "Tokyo", "Kyoto", "Osaka", "Nagoya"),
		mk("g-8", "Square root of 144?", 1, "11", "12", "13", "14"),
		mk("g-9", "Author of 'Dom Casmurro'?", 2, "José de Alencar", "Clarice Lispector", "Machado de Assis", "Jorge Amado"),
		mk("g-10", "Speed of light is roughly?", 0, "300,000 km/s", "30,000 km/s", "3,000 km/s", "3,000,000 km/s"),
		mk("g-11", "Which gas do plants absorb?", 3, "Oxygen", "Nitrogen", "Helium", "Carbon dioxide"),
		mk("g-12", "How many sides has a hexagon?", 1, "5", "6", "7", "8"),
	}
}
