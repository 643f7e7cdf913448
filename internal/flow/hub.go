// Package flow implements the dialog handlers behind the dispatch router:
// medication reminder responses, symptom assessments and follow-ups, menu
// navigation, onboarding, the medication wizard, check-ins, caregiver proxy
// commands, and the open-domain fallback.
package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CareLoop/internal/genai"
	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/session"
	"github.com/BTreeMap/CareLoop/internal/store"
)

// Hub bundles the collaborators every dialog handler needs and provides one
// entry point per dialog kind.
type Hub struct {
	sessions session.Store
	store    store.Store
	msgs     messaging.Service
	gen      genai.Generator
}

// NewHub wires the handler hub over its collaborators. gen may be nil, in
// which case the open-domain fallback degrades to a canned reply.
func NewHub(sessions session.Store, st store.Store, msgs messaging.Service, gen genai.Generator) *Hub {
	return &Hub{sessions: sessions, store: st, msgs: msgs, gen: gen}
}

// send delivers a reply, logging failures without propagating them: a failed
// outbound message must not corrupt dialog state that was already written.
func (h *Hub) send(ctx context.Context, to, body string) {
	if err := h.msgs.SendMessage(ctx, to, body); err != nil {
		slog.Error("Flow failed to send message", "error", err, "to", to)
	}
}
