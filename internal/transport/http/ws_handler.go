package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/config"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
	"github.com/vovakirdan/wiredm/internal/service/messages"
)

const (
	helloTimeout = 10 * time.Second
	readLimit    = 64 << 10
)

var (
	errSessionReplaced = errors.New("session replaced")
	errHubClosed       = errors.New("server shutting down")
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	auth     *auth.Service
	messages *messages.Service
	limiter  *rateLimiter
	buffer   int
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, svc *messages.Service, limiter *rateLimiter, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:      hub,
		auth:     authService,
		messages: svc,
		limiter:  limiter,
		buffer:   cfg.ChannelBuffer,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	userID, ok := h.handshake(ctx, conn)
	if !ok {
		return
	}

	client := core.NewClient(userID, h.buffer)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	logger := h.log.With().Int64("user_id", userID).Str("channel_id", client.ID).Logger()
	logger.Debug().Msg("channel connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errSessionReplaced):
		reason = errSessionReplaced.Error()
	case errors.Is(err, errHubClosed):
		status, reason = websocket.StatusGoingAway, errHubClosed.Error()
	case err != nil && !errors.Is(err, context.Canceled):
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "internal error"
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	logger.Debug().Str("reason", reason).Msg("channel disconnected")
	_ = conn.Close(status, reason)
}

// handshake waits for hello, checks the protocol version and authenticates the token.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (int64, bool) {
	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	fail := func(code, msg string, status websocket.StatusCode) (int64, bool) {
		_ = wsjson.Write(hctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: code, Msg: msg},
		})
		_ = conn.Close(status, msg)
		return 0, false
	}

	var inbound proto.Inbound
	if err := wsjson.Read(hctx, conn, &inbound); err != nil {
		h.log.Debug().Err(err).Msg("read hello")
		return 0, false
	}
	if inbound.Type != proto.InboundTypeHello {
		return fail(core.ErrCodeBadRequest, "hello required", websocket.StatusPolicyViolation)
	}

	var hello proto.HelloData
	if err := json.Unmarshal(inbound.Data, &hello); err != nil {
		return fail(core.ErrCodeBadRequest, "invalid hello payload", websocket.StatusPolicyViolation)
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return fail(core.ErrCodeUnsupportedVersion, "unsupported protocol version", websocket.StatusPolicyViolation)
	}

	claims, err := h.auth.ValidateToken(hello.Token)
	if err != nil {
		h.log.Debug().Err(err).Msg("invalid ws token")
		return fail(core.ErrCodeUnauthorized, "invalid token", websocket.StatusPolicyViolation)
	}
	exists, err := h.auth.UserExists(hctx, claims.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", claims.UserID).Msg("failed to check ws user")
		return fail(core.ErrCodeStorage, "internal server error", websocket.StatusInternalError)
	}
	if !exists {
		return fail(core.ErrCodeUnauthorized, "unknown user", websocket.StatusPolicyViolation)
	}
	return claims.UserID, true
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to map inbound")
			return err
		}
		if protoErr == nil && cmd.kind != commandPing && !h.limiter.allow(client.UserID) {
			protoErr = &proto.Error{Code: core.ErrCodeRateLimited, Msg: "rate limit exceeded"}
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}); writeErr != nil {
				return writeErr
			}
			continue
		}

		switch cmd.kind {
		case commandPing:
			if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypePong}); err != nil {
				return err
			}
		case commandMarkRead:
			// A dropped channel must not abort a mark-read that already started.
			_, err := h.messages.MarkAllRead(context.WithoutCancel(ctx), cmd.senderID, client.UserID)
			if err != nil {
				ce := core.ToCoreError(err)
				if ce.Code == core.ErrCodeStorage {
					logger.Error().Err(err).Int64("sender_id", cmd.senderID).Msg("mark read failed")
				}
				if writeErr := wsjson.Write(ctx, conn, errorOutbound(ce)); writeErr != nil {
					return writeErr
				}
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	replaced := false
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				if replaced {
					return errSessionReplaced
				}
				return errHubClosed
			}
			if event.Kind == core.EventSessionReplaced {
				replaced = true
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Debug().Err(err).Str("event", event.Kind.String()).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
