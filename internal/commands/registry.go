// Package commands implements the capability-tagged command registry.
// Each command declares the capability it requires; the dispatcher
// checks the session identity once per lookup.
package commands

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/ent0n29/nova/internal/auth"
	"github.com/ent0n29/nova/internal/observability"
)

// Capability gates who may run a command.
type Capability string

const (
	CapabilityAny     Capability = "any"
	CapabilityCreator Capability = "creator"
)

// Request carries the dispatch inputs for one command invocation.
type Request struct {
	Identity  auth.Identity
	SessionID string
	Input     string
}

// Handler executes a matched command and returns the spoken response.
type Handler func(ctx context.Context, req Request) (string, error)

// Command is one registry entry. Match decides whether the input
// invokes it; registration order is dispatch priority.
type Command struct {
	Name       string
	Capability Capability
	Match      func(input string) bool
	Handler    Handler
}

var blockedInputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
	regexp.MustCompile(`(?i)\bcat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
	regexp.MustCompile(`(?i)\b(print|show|reveal)\b.*\b(secret\s+phrase|api[_ -]?key|password)\b`),
}

// Registry holds registered commands in priority order.
type Registry struct {
	commands []Command
	metrics  *observability.Metrics
}

func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{metrics: metrics}
}

func (r *Registry) Register(cmd Command) {
	r.commands = append(r.commands, cmd)
}

// Dispatch finds the first matching command and runs it, enforcing its
// capability against the identity. The second return is false when no
// command claims the input and it should go to the language model.
func (r *Registry) Dispatch(ctx context.Context, id auth.Identity, sessionID, input string) (string, bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return "", false
	}

	for _, re := range blockedInputPatterns {
		if re.MatchString(in) {
			r.count("blocked")
			return "That request looks unsafe, so I'm not going to do it.", true
		}
	}

	for _, cmd := range r.commands {
		if !cmd.Match(in) {
			continue
		}

		if cmd.Capability == CapabilityCreator && !id.IsCreator {
			r.count("denied")
			return "Sorry, that command is reserved for my creator.", true
		}

		r.count("allowed")
		resp, err := cmd.Handler(ctx, Request{Identity: id, SessionID: sessionID, Input: input})
		if err != nil {
			log.Printf("command %s failed: %v", cmd.Name, err)
			return "I tried, but that command failed on my end.", true
		}
		return resp, true
	}

	return "", false
}

func (r *Registry) count(decision string) {
	if r.metrics != nil {
		r.metrics.CommandChecks.WithLabelValues(decision).Inc()
	}
}

func containsAny(in string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(in, p) {
			return true
		}
	}
	return false
}
