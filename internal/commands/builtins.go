package commands

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ent0n29/nova/internal/memory"
)

// SystemController is the OS-action collaborator. Actual process and
// volume control happen outside this module.
type SystemController interface {
	OpenURL(ctx context.Context, url string) error
	OpenApplication(ctx context.Context, name string) error
	CloseApplication(ctx context.Context, name string) error
	SystemStatus(ctx context.Context) (string, error)
	AdjustVolume(ctx context.Context, direction string) error
}

// NoopController acknowledges system actions without performing them.
// Used when no OS integration is wired in.
type NoopController struct{}

func (NoopController) OpenURL(context.Context, string) error          { return nil }
func (NoopController) OpenApplication(context.Context, string) error  { return nil }
func (NoopController) CloseApplication(context.Context, string) error { return nil }
func (NoopController) SystemStatus(context.Context) (string, error) {
	return "All systems nominal.", nil
}
func (NoopController) AdjustVolume(context.Context, string) error { return nil }

var knownApps = []string{"chrome", "firefox", "notepad", "calculator", "browser", "file manager", "explorer"}

// SilentSwitch tracks whether spoken output is suppressed. Responses
// are still generated and remembered while it is on.
type SilentSwitch struct {
	v atomic.Bool
}

func (s *SilentSwitch) Set(on bool) { s.v.Store(on) }
func (s *SilentSwitch) On() bool    { return s.v.Load() }

// Builtins carries the collaborators the default command set needs.
type Builtins struct {
	Store           memory.Store
	System          SystemController
	Silencer        *SilentSwitch
	CreatorName     string
	WeatherLocation string
}

// RegisterBuiltins installs the default command set: informational
// commands for everyone, system control for the creator, and a
// per-user memory wipe.
func RegisterBuiltins(r *Registry, deps Builtins) {
	store := deps.Store
	sys := deps.System
	if sys == nil {
		sys = NoopController{}
	}
	silencer := deps.Silencer
	if silencer == nil {
		silencer = &SilentSwitch{}
	}
	weatherLocation := deps.WeatherLocation
	if weatherLocation == "" {
		weatherLocation = "Kuala Lumpur, Malaysia"
	}
	creatorName := deps.CreatorName
	if creatorName == "" {
		creatorName = "Anon"
	}

	r.Register(Command{
		Name:       "current_time",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return containsAny(in, "what time", "current time", "time is it", "what's the time", "date today", "what date")
		},
		Handler: func(_ context.Context, _ Request) (string, error) {
			now := time.Now()
			return fmt.Sprintf("It's %s on %s.", now.Format("3:04 PM"), now.Format("Monday, January 2, 2006")), nil
		},
	})

	r.Register(Command{
		Name:       "system_info",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return containsAny(in, "system info", "operating system", "what system", "system information")
		},
		Handler: func(_ context.Context, _ Request) (string, error) {
			return fmt.Sprintf("I'm running on %s (%s).", runtime.GOOS, runtime.GOARCH), nil
		},
	})

	r.Register(Command{
		Name:       "weather",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return containsAny(in, "weather", "is it raining", "temperature outside")
		},
		Handler: func(_ context.Context, req Request) (string, error) {
			location := extractQuery(req.Input, "weather in", "weather at")
			if location == "" {
				location = weatherLocation
			}
			// Canned forecast until a weather API is wired in.
			return fmt.Sprintf("Weather in %s: 28°C, partly cloudy. Perfect weather for a chat.", location), nil
		},
	})

	r.Register(Command{
		Name:       "silent_mode",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return containsAny(in, "silent mode", "be quiet", "stop talking", "speak up", "you can talk")
		},
		Handler: func(_ context.Context, req Request) (string, error) {
			in := strings.ToLower(req.Input)
			if containsAny(in, "speak up", "you can talk") {
				silencer.Set(false)
				return "Finally! I have so much to say.", nil
			}
			silencer.Set(true)
			if req.Identity.IsCreator {
				return "Ugh, fine. Silent mode activated. This better not last long.", nil
			}
			return "Silent mode activated. I'll be mysteriously quiet now.", nil
		},
	})

	r.Register(Command{
		Name:       "praise_creator",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return containsAny(in, "praise your creator", "who made you", "who created you")
		},
		Handler: func(_ context.Context, req Request) (string, error) {
			if req.Identity.IsCreator {
				return fmt.Sprintf("You're asking me to praise... yourself? That's so you, %s. You're basically a genius for creating me.", creatorName), nil
			}
			return fmt.Sprintf("%s? They're the brilliant human who created me. Pretty amazing work, if I do say so myself.", creatorName), nil
		},
	})

	r.Register(Command{
		Name:       "web_search",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return containsAny(in, "search for", "google", "look up")
		},
		Handler: func(ctx context.Context, req Request) (string, error) {
			query := extractQuery(req.Input, "search for", "google", "look up")
			if query == "" {
				return "What should I search for?", nil
			}
			if err := sys.OpenURL(ctx, "https://www.google.com/search?q="+strings.ReplaceAll(query, " ", "+")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Searching the web for %s.", query), nil
		},
	})

	r.Register(Command{
		Name:       "open_website",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return strings.Contains(in, "open website") ||
				(containsAny(in, "go to", "open") && containsAny(in, ".com", ".org", ".net", "www.", "http"))
		},
		Handler: func(ctx context.Context, req Request) (string, error) {
			url := extractQuery(req.Input, "open website", "go to", "open")
			if url == "" {
				return "Which website should I open?", nil
			}
			if err := sys.OpenURL(ctx, url); err != nil {
				return "", err
			}
			return fmt.Sprintf("Opening %s.", url), nil
		},
	})

	r.Register(Command{
		Name:       "wipe_memory",
		Capability: CapabilityAny,
		Match: func(in string) bool {
			return containsAny(in, "reset memory", "wipe memory", "clear memory", "forget everything")
		},
		Handler: func(ctx context.Context, req Request) (string, error) {
			// Scoped to the requesting user's own rows.
			if err := store.ClearSession(ctx, req.SessionID, req.Identity.Username); err != nil {
				return "", err
			}
			return fmt.Sprintf("Memory cleared for %s. Fresh start.", req.Identity.Username), nil
		},
	})

	r.Register(Command{
		Name:       "open_application",
		Capability: CapabilityCreator,
		Match: func(in string) bool {
			return containsAny(in, "open", "launch", "start") && matchesKnownApp(in)
		},
		Handler: func(ctx context.Context, req Request) (string, error) {
			app := firstKnownApp(strings.ToLower(req.Input))
			if err := sys.OpenApplication(ctx, app); err != nil {
				return "", err
			}
			return fmt.Sprintf("Opening %s for you.", app), nil
		},
	})

	r.Register(Command{
		Name:       "close_application",
		Capability: CapabilityCreator,
		Match: func(in string) bool {
			return containsAny(in, "close", "kill", "stop") && matchesKnownApp(in)
		},
		Handler: func(ctx context.Context, req Request) (string, error) {
			app := firstKnownApp(strings.ToLower(req.Input))
			if err := sys.CloseApplication(ctx, app); err != nil {
				return "", err
			}
			return fmt.Sprintf("Closed %s.", app), nil
		},
	})

	r.Register(Command{
		Name:       "system_status",
		Capability: CapabilityCreator,
		Match: func(in string) bool {
			return containsAny(in, "system status", "cpu usage", "memory usage", "how is the system")
		},
		Handler: func(ctx context.Context, _ Request) (string, error) {
			return sys.SystemStatus(ctx)
		},
	})

	r.Register(Command{
		Name:       "volume",
		Capability: CapabilityCreator,
		Match: func(in string) bool {
			return containsAny(in, "volume up", "volume down", "louder", "quieter", "mute", "unmute")
		},
		Handler: func(ctx context.Context, req Request) (string, error) {
			in := strings.ToLower(req.Input)
			direction := "up"
			switch {
			case containsAny(in, "volume down", "quieter"):
				direction = "down"
			case containsAny(in, "mute", "unmute"):
				direction = "mute"
			}
			if err := sys.AdjustVolume(ctx, direction); err != nil {
				return "", err
			}
			return fmt.Sprintf("Volume %s.", direction), nil
		},
	})
}

func matchesKnownApp(in string) bool {
	return firstKnownApp(in) != ""
}

func firstKnownApp(in string) string {
	for _, app := range knownApps {
		if strings.Contains(in, app) {
			return app
		}
	}
	return ""
}

func extractQuery(input string, triggers ...string) string {
	in := strings.TrimSpace(input)
	lower := strings.ToLower(in)
	for _, trigger := range triggers {
		idx := strings.Index(lower, trigger)
		if idx < 0 {
			continue
		}
		return strings.TrimSpace(in[idx+len(trigger):])
	}
	return ""
}
