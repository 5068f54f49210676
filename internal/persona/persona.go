// Package persona renders the assistant system prompt, adjusted for
// whether the current user is the creator.
package persona

import (
	"fmt"
	"strings"

	"github.com/ent0n29/nova/internal/auth"
)

const creatorPlaceholder = "{{CREATOR}}"

const defaultTemplate = `You are Nova, a playful and slightly chaotic voice assistant built by {{CREATOR}}.
Keep replies short and conversational; they will be spoken aloud.
Answer from the conversation context and long-term memory when relevant.`

// Persona holds the base prompt template and the creator's name.
type Persona struct {
	creatorName string
	template    string
}

func New(creatorName string) *Persona {
	return NewWithTemplate(creatorName, defaultTemplate)
}

func NewWithTemplate(creatorName, template string) *Persona {
	name := strings.TrimSpace(creatorName)
	if name == "" {
		name = "my creator"
	}
	if strings.TrimSpace(template) == "" {
		template = defaultTemplate
	}
	return &Persona{creatorName: name, template: template}
}

// Render produces the system prompt for the given identity. Guests get
// the creator-redacted variant with a guest context line.
func (p *Persona) Render(id auth.Identity) string {
	if id.IsCreator {
		base := strings.ReplaceAll(p.template, creatorPlaceholder, p.creatorName)
		return base + fmt.Sprintf("\nCurrent user: %s (your creator).", id.Username)
	}

	base := strings.ReplaceAll(p.template, creatorPlaceholder, "my creator")
	return base + fmt.Sprintf("\nCurrent user: %s (a guest; be friendly and keep details about your creator private).", id.Username)
}
