package chat

import (
	"context"
	"fmt"
)

// Scripted is a local backend for development and tests. It echoes a short
// in-persona acknowledgement instead of calling out.
type Scripted struct{}

// NewScripted creates the canned backend.
func NewScripted() *Scripted {
	return &Scripted{}
}

func (s *Scripted) Respond(_ context.Context, req Request) (*Reply, error) {
	text := fmt.Sprintf("%s reflexiona sobre tu consulta y responde: las señales que compartes (%q) merecen una lectura atenta. Cuéntame más.",
		req.Service.Persona.Name, truncate(req.UserMessage, 80))
	return &Reply{Text: text}, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
