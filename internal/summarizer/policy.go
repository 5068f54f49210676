package summarizer

import (
	"fmt"
	"strings"

	"github.com/ent0n29/nova/internal/memory"
)

// Candidate is one salient fact extracted from a turn window. Salience
// is relative within the batch; the summarizer converts it into a
// strictly ordered importance score.
type Candidate struct {
	Summary  string
	Salience int
}

// Policy extracts scored candidates from a window of turns. The exact
// scoring rule is replaceable; the summarizer only requires salience to
// be a positive integer.
type Policy interface {
	Summarize(turns []memory.Turn) []Candidate
}

var preferenceMarkers = []string{
	"i like", "i love", "i hate", "i prefer", "i always", "i never",
	"my favorite", "my favourite", "my name is", "call me", "remember that",
	"remember my",
}

var topicStopwords = map[string]bool{
	"what": true, "when": true, "where": true, "this": true, "that": true,
	"with": true, "about": true, "have": true, "your": true, "please": true,
	"would": true, "could": true, "should": true, "there": true, "thing": true,
}

// HeuristicPolicy flags explicit preference statements and topics the
// user keeps returning to.
type HeuristicPolicy struct {
	// MinTopicTurns is the number of distinct turns a word must appear
	// in before it counts as a recurring topic.
	MinTopicTurns int
}

func NewHeuristicPolicy() *HeuristicPolicy {
	return &HeuristicPolicy{MinTopicTurns: 3}
}

func (p *HeuristicPolicy) Summarize(turns []memory.Turn) []Candidate {
	minTurns := p.MinTopicTurns
	if minTurns <= 0 {
		minTurns = 3
	}

	var out []Candidate
	seen := make(map[string]bool)

	for _, turn := range turns {
		input := strings.TrimSpace(turn.UserInput)
		lower := strings.ToLower(input)
		for _, marker := range preferenceMarkers {
			if !strings.Contains(lower, marker) {
				continue
			}
			summary := fmt.Sprintf("%s stated: %s", turn.Username, input)
			if seen[summary] {
				break
			}
			seen[summary] = true

			salience := 3
			// Explicit self-identification outranks general preferences.
			if strings.Contains(lower, "my name is") || strings.Contains(lower, "call me") {
				salience = 4
			}
			out = append(out, Candidate{Summary: summary, Salience: salience})
			break
		}
	}

	// Count in how many distinct turns each content word occurs.
	turnsPerWord := make(map[string]int)
	for _, turn := range turns {
		wordsInTurn := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(turn.UserInput)) {
			w = strings.Trim(w, ".,!?\"'()")
			if len(w) < 4 || topicStopwords[w] {
				continue
			}
			wordsInTurn[w] = true
		}
		for w := range wordsInTurn {
			turnsPerWord[w]++
		}
	}
	for w, n := range turnsPerWord {
		if n < minTurns {
			continue
		}
		summary := fmt.Sprintf("Recurring topic: %s", w)
		if seen[summary] {
			continue
		}
		seen[summary] = true
		out = append(out, Candidate{Summary: summary, Salience: 2})
	}

	return out
}
