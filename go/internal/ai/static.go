package ai

import (
	"context"
	"hash/fnv"
)

// StaticGenerator answers from a fixed phrase pool, keyed off the question so
// the same question always gets the same phrase. It backs deployments that
// run without an answer service.
type StaticGenerator struct {
	phrases []string
}

var defaultPhrases = []string{
	"Pizza probably",
	"My bed",
	"Hard pass",
	"Sounds fun",
	"No comment",
	"Tacos",
	"A nap",
	"The beach",
	"Coffee first",
	"My phone",
	"Absolutely not",
	"Maybe cheese",
}

// NewStaticGenerator creates a generator over the default phrase pool.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{phrases: defaultPhrases}
}

// Answer returns the pool phrase the question hashes to.
func (g *StaticGenerator) Answer(_ context.Context, question string) (string, error) {
	h := fnv.New32a()
	h.Write([]byte(question))
	return g.phrases[int(h.Sum32())%len(g.phrases)], nil
}
