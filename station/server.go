package station

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/botcomet/protocol"
	"github.com/opd-ai/botcomet/transport"
)

// Handler upgrades HTTP requests to links and serves them on a Router.
type Handler struct {
	ctx      context.Context
	router   *Router
	upgrader *transport.Upgrader
}

// NewHandler returns an http.Handler for the station endpoint. Connections
// are closed when ctx is done.
func NewHandler(ctx context.Context, router *Router, upgrader *transport.Upgrader) *Handler {
	return &Handler{ctx: ctx, router: router, upgrader: upgrader}
}

// ServeHTTP accepts one link and serves it until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	link, err := h.upgrader.Accept(w, r)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Debug("WebSocket upgrade failed")
		return
	}

	err = h.router.Serve(h.ctx, link)
	if err != nil && !errors.Is(err, ErrRouterClosed) {
		fields := logrus.Fields{
			"function": "ServeHTTP",
			"remote":   link.RemoteAddr(),
			"error":    err.Error(),
		}
		if errors.Is(err, protocol.ErrAuthenticationFailure) {
			logrus.WithFields(fields).Info("Rejected connection")
			return
		}
		logrus.WithFields(fields).Warn("Connection terminated")
	}
}
