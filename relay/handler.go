package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/metrics"
)

// Handler serves relay connections. It owns no pairing state itself; all
// state lives in the injected registry.
type Handler struct {
	registry *PairingRegistry
	log      *slog.Logger
}

// NewHandler creates a relay connection handler over the given registry.
func NewHandler(registry *PairingRegistry, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{registry: registry, log: log}
}

// Mount registers the websocket relay endpoint on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/relay", h.HandleConnect)
}

// HandleConnect upgrades the HTTP request to a websocket and serves the
// relay protocol on it. A request without ?code= opens a new pairing; a
// request with ?code= joins an existing one.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	ch, err := upgradeWebsocket(w, r)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "err", err)
		return
	}
	h.Serve(r.Context(), ch, r.URL.Query().Get("code"))
}

// Serve runs the relay protocol for one participant channel until the
// channel drops or the transfer finishes. It is transport-independent:
// tests drive it with in-process pipes.
func (h *Handler) Serve(ctx context.Context, ch Channel, codeParam string) {
	defer ch.Close()

	if codeParam == "" {
		code, err := h.registry.Register(ch)
		if err != nil {
			h.log.Error("Failed to register pairing", "err", err)
			_ = ch.Send(ctx, Message{Type: TypeError, Reason: "could not create pairing"})
			return
		}

		metrics.PairingsCreated.Inc()
		h.log.Info("Pairing created", slog.String("code", code.String()))
		if err := ch.Send(ctx, Message{Type: TypeSessionCreated, Code: code.String()}); err != nil {
			h.teardown(ctx, code, ch)
			return
		}
		h.pump(ctx, code, ch)
		return
	}

	code, err := interfaces.ParsePairingCode(codeParam)
	if err != nil {
		metrics.PairingsRejected.Inc()
		_ = ch.Send(ctx, Message{Type: TypeError, Reason: "invalid pairing code"})
		return
	}

	host, err := h.registry.Join(code, ch)
	if err != nil {
		reason := "unknown or expired pairing code"
		if errors.Is(err, ErrCodeInUse) {
			reason = "pairing code already in use"
		}
		metrics.PairingsRejected.Inc()
		h.log.Info("Join rejected", slog.String("code", code.String()), slog.String("reason", reason))
		_ = ch.Send(ctx, Message{Type: TypeError, Reason: reason})
		return
	}

	h.log.Info("Pairing bound", slog.String("code", code.String()))
	if err := host.Send(ctx, Message{Type: TypePeerJoined}); err != nil {
		h.teardown(ctx, code, ch)
		return
	}
	if err := ch.Send(ctx, Message{Type: TypePeerJoined}); err != nil {
		h.teardown(ctx, code, ch)
		return
	}
	h.pump(ctx, code, ch)
}

// pump forwards messages from ch to its peer until the channel drops or
// the transfer finishes. The relay never inspects or persists payloads.
func (h *Handler) pump(ctx context.Context, code interfaces.PairingCode, ch Channel) {
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			h.teardown(ctx, code, ch)
			return
		}

		switch msg.Type {
		case TypeKey, TypeData, TypeSyncComplete, TypeError:
		default:
			// Not part of the client vocabulary; drop it.
			continue
		}

		peer := h.registry.Peer(code, ch)
		if peer == nil {
			_ = ch.Send(ctx, Message{Type: TypeError, Reason: "no peer connected"})
			continue
		}

		if err := peer.Send(ctx, msg); err != nil {
			h.teardown(ctx, code, ch)
			return
		}

		// Completion and cancellation both end the pairing; the code is
		// dead either way.
		if msg.Type == TypeSyncComplete || (msg.Type == TypeError && msg.Reason == ReasonCancelled) {
			h.registry.Drop(code, ch)
			if msg.Type == TypeSyncComplete {
				metrics.PairingsCompleted.Inc()
			}
			h.log.Info("Pairing finished", slog.String("code", code.String()))
			return
		}
	}
}

// teardown discards the pairing and notifies the remaining side, if any.
func (h *Handler) teardown(ctx context.Context, code interfaces.PairingCode, ch Channel) {
	if peer := h.registry.Drop(code, ch); peer != nil {
		_ = peer.Send(context.WithoutCancel(ctx), Message{Type: TypePeerDisconnected})
		h.log.Info("Peer disconnected", slog.String("code", code.String()))
	}
}
