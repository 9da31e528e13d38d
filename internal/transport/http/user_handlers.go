package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/proto"
	"github.com/vovakirdan/wiredm/internal/service/messages"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	messages *messages.Service
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(svc *messages.Service, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		messages: svc,
		log:      logger,
	}
}

// ListPartners returns every other user with live presence and last seen time.
// GET /api/users
func (h *UserHandlers) ListPartners(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		h.log.Error().Msg("user_id not found in context")
		abortUnauthorized(c, "unauthorized")
		return
	}

	partners, err := h.messages.ListPartners(c.Request.Context(), uid)
	if err != nil {
		writeError(c, h.log, "list partners", err)
		return
	}

	resp := make([]proto.User, 0, len(partners))
	for _, p := range partners {
		resp = append(resp, proto.User{
			ID:       p.User.ID,
			Username: p.User.Username,
			FullName: p.User.FullName,
			IsOnline: p.IsOnline,
			LastSeen: p.User.LastSeen,
		})
	}

	c.JSON(http.StatusOK, resp)
}
