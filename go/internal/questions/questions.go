package questions

import "math/rand"

// Pool is the fixed set of prompts a room draws from. Selection is uniform
// random with replacement, so repeats across rounds are possible.
var Pool = []string{
	"Name a kitchen appliance you couldn't live without.",
	"What's your ideal superpower?",
	"Name a mythical creature you'd keep as a pet.",
	"What's your favorite rainy day activity?",
	"Name an overrated food item.",
	"A famous person you'd invite to dinner?",
	"What's the worst chore in the house?",
	"Name something you'd bring to a desert island.",
	"What's a sport that should exist but doesn't?",
	"Name a smell that instantly makes you happy.",
	"What would you name a pet goldfish?",
	"Name something people pretend to enjoy.",
	"What's the best midnight snack?",
	"Name an item you'd grab first in a fire.",
	"What's a talent you wish you had?",
	"Name a movie everyone should see once.",
	"What's the most useless invention you can think of?",
	"Name a place you'd teleport to right now.",
	"What's your go-to karaoke song genre?",
	"Name something that always breaks when you need it.",
}

// Random picks one prompt from the pool.
func Random() string {
	return Pool[rand.Intn(len(Pool))]
}
