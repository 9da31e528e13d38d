package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/media"
	"github.com/vovakirdan/wiredm/internal/proto"
	"github.com/vovakirdan/wiredm/internal/service/messages"
)

// MessageHandlers exposes the message operations over REST.
type MessageHandlers struct {
	messages *messages.Service
	media    *media.Store
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messages.Service, mediaStore *media.Store, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		messages: svc,
		media:    mediaStore,
		log:      logger,
	}
}

// History returns the conversation with another user, oldest first.
// GET /api/conversations/:id
func (h *MessageHandlers) History(c *gin.Context) {
	uid, otherID, ok := h.pair(c)
	if !ok {
		return
	}

	msgs, err := h.messages.ListBetween(c.Request.Context(), uid, otherID)
	if err != nil {
		writeError(c, h.log, "history", err)
		return
	}
	c.JSON(http.StatusOK, proto.FromStoreMessages(msgs))
}

// Send posts a message. The body is a multipart form with a "text" field and an optional "image" file.
// POST /api/conversations/:id/messages
func (h *MessageHandlers) Send(c *gin.Context) {
	uid, receiverID, ok := h.pair(c)
	if !ok {
		return
	}

	image, err := h.saveImage(c)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrTooLarge), errors.Is(err, media.ErrUnsupported):
			writeError(c, h.log, "send", core.Validation(err.Error()))
		default:
			writeError(c, h.log, "send", err)
		}
		return
	}

	// Disconnecting mid-request does not abort a mutation that already started.
	ctx := context.WithoutCancel(c.Request.Context())
	msg, err := h.messages.Send(ctx, uid, receiverID, c.PostForm("text"), image)
	if err != nil {
		if image != "" {
			if rmErr := h.media.Remove(image); rmErr != nil {
				h.log.Warn().Err(rmErr).Str("image", image).Msg("failed to remove orphaned image")
			}
		}
		writeError(c, h.log, "send", err)
		return
	}
	c.JSON(http.StatusCreated, proto.FromStoreMessage(msg))
}

// Edit replaces the text of a message.
// PATCH /api/messages/:id
func (h *MessageHandlers) Edit(c *gin.Context) {
	uid, messageID, ok := h.messageID(c)
	if !ok {
		return
	}

	var req proto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid edit request")
		badRequest(c, "invalid request body")
		return
	}

	msg, err := h.messages.Edit(context.WithoutCancel(c.Request.Context()), messageID, uid, req.Text)
	if err != nil {
		writeError(c, h.log, "edit", err)
		return
	}
	c.JSON(http.StatusOK, proto.FromStoreMessage(msg))
}

// Delete removes a message.
// DELETE /api/messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	uid, messageID, ok := h.messageID(c)
	if !ok {
		return
	}

	if err := h.messages.Delete(context.WithoutCancel(c.Request.Context()), messageID, uid); err != nil {
		writeError(c, h.log, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead marks every message from the path user to the caller as read.
// POST /api/conversations/:id/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	uid, senderID, ok := h.pair(c)
	if !ok {
		return
	}

	count, err := h.messages.MarkAllRead(context.WithoutCancel(c.Request.Context()), senderID, uid)
	if err != nil {
		writeError(c, h.log, "mark read", err)
		return
	}
	c.JSON(http.StatusOK, proto.MarkReadResponse{Count: count})
}

// LastMessages returns the caller's last message per counterpart.
// GET /api/messages/last
func (h *MessageHandlers) LastMessages(c *gin.Context) {
	uid, ok := h.user(c)
	if !ok {
		return
	}

	last, err := h.messages.LastMessages(c.Request.Context(), uid)
	if err != nil {
		writeError(c, h.log, "last messages", err)
		return
	}
	resp := make(map[int64]*proto.Message, len(last))
	for counterpart, m := range last {
		resp[counterpart] = proto.FromStoreMessage(m)
	}
	c.JSON(http.StatusOK, resp)
}

// UnreadCounts returns the caller's unread count per sender.
// GET /api/messages/unread
func (h *MessageHandlers) UnreadCounts(c *gin.Context) {
	uid, ok := h.user(c)
	if !ok {
		return
	}

	counts, err := h.messages.UnreadCounts(c.Request.Context(), uid)
	if err != nil {
		writeError(c, h.log, "unread counts", err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *MessageHandlers) user(c *gin.Context) (int64, bool) {
	uid, ok := currentUserID(c)
	if !ok {
		h.log.Error().Msg("user_id not found in context")
		abortUnauthorized(c, "unauthorized")
	}
	return uid, ok
}

// pair returns the caller and the user named by the :id path parameter.
func (h *MessageHandlers) pair(c *gin.Context) (int64, int64, bool) {
	uid, ok := h.user(c)
	if !ok {
		return 0, 0, false
	}
	otherID, ok := pathID(c, "id")
	if !ok {
		badRequest(c, "invalid user id")
		return 0, 0, false
	}
	return uid, otherID, true
}

func (h *MessageHandlers) messageID(c *gin.Context) (int64, int64, bool) {
	uid, ok := h.user(c)
	if !ok {
		return 0, 0, false
	}
	id, ok := pathID(c, "id")
	if !ok {
		badRequest(c, "invalid message id")
		return 0, 0, false
	}
	return uid, id, true
}

// saveImage stores the optional "image" form file and returns its public reference.
func (h *MessageHandlers) saveImage(c *gin.Context) (string, error) {
	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", core.Validation("invalid multipart body")
	}
	if h.media == nil {
		return "", core.Validation("image uploads are disabled")
	}

	f, err := fh.Open()
	if err != nil {
		return "", core.Validation("unreadable image")
	}
	defer f.Close()

	return h.media.Save(f)
}
