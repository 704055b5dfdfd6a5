package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/p2pex-backend/api/middleware"
	"github.com/angelmondragon/p2pex-backend/api/responses"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
)

// SocketServer upgrades an authenticated request into a notification socket.
type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID, role enums.Role) error
}

// WebSocket hands the authenticated caller to the notification hub.
func WebSocket(hub SocketServer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification hub unavailable"))
			return
		}
		userID, role, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		// The upgrader has already answered the client when Serve fails.
		if err := hub.Serve(w, r, userID, role); err != nil && logg != nil {
			logg.Warn(logg.WithField(context.WithoutCancel(r.Context()), "error", err.Error()), "websocket.serve.failed")
		}
	}
}
