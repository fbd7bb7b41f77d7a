package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/robertcoach/assess/internal/identity"
)

// Stream upgrades to a WebSocket and pushes flow snapshots to the
// client: the current state on connect, then one message per
// transition. Lets a second tab follow the conversation live.
func (h *AssessmentHandler) Stream(w http.ResponseWriter, r *http.Request) {
	profileID := identity.ProfileIDFromContext(r.Context())
	if profileID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept WebSocket", "error", err, "profile_id", profileID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr, "profile_id", profileID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snap, err := h.flow.EnsureInitialized(ctx, profileID)
	if err != nil {
		h.logger.Error("failed to restore session for stream", "profile_id", profileID, "error", err)
		return
	}

	updates, unsubscribe := h.flow.Subscribe(profileID)
	defer unsubscribe()

	if err := writeJSON(ctx, ws, snap); err != nil {
		return
	}

	// Drain client frames so pings and close frames are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, snap); err != nil {
				h.logger.Debug("websocket write failed", "error", err, "profile_id", profileID)
				return
			}
		}
	}
}

func (h *AssessmentHandler) checkOrigin(r *http.Request) bool {
	if isDevelopment(h.cfg.FrontendURL) {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.FrontendURL == "*" {
		return true
	}
	if origin == h.cfg.FrontendURL {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.FrontendURL)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
