package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
)

// Conn is an authenticated websocket channel.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens the websocket at wsURL and authenticates with token.
func Dial(ctx context.Context, wsURL, token string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Conn{ws: ws}
	if err := c.send(ctx, proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion}); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "hello failed")
		return nil, err
	}
	return c, nil
}

// Next blocks until the next event. Server errors come back as EventError events;
// pongs are skipped.
func (c *Conn) Next(ctx context.Context) (*core.Event, error) {
	for {
		var raw proto.RawOutbound
		if err := wsjson.Read(ctx, c.ws, &raw); err != nil {
			return nil, err
		}

		switch raw.Type {
		case proto.OutboundTypePong:
			continue
		case proto.OutboundTypeError:
			ev := &core.Event{Kind: core.EventError, Error: &core.CoreError{Code: "unknown", Message: "unknown error"}}
			if raw.Error != nil {
				ev.Error = &core.CoreError{Code: raw.Error.Code, Message: raw.Error.Msg}
			}
			return ev, nil
		case proto.OutboundTypeEvent:
			ev, err := decodeEvent(raw)
			if err != nil {
				return nil, err
			}
			return ev, nil
		}
	}
}

// MarkRead asks the server to mark every message from senderID as read.
func (c *Conn) MarkRead(ctx context.Context, senderID int64) error {
	return c.send(ctx, proto.InboundTypeMarkRead, proto.MarkReadData{SenderID: senderID})
}

// Ping sends a keepalive. The pong is consumed by Next.
func (c *Conn) Ping(ctx context.Context) error {
	return c.send(ctx, proto.InboundTypePing, nil)
}

// Close ends the channel normally.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Conn) send(ctx context.Context, typ string, data any) error {
	in := proto.Inbound{Type: typ}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		in.Data = payload
	}
	if err := wsjson.Write(ctx, c.ws, in); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

func decodeEvent(raw proto.RawOutbound) (*core.Event, error) {
	kind, ok := core.ParseEventKind(raw.Event)
	if !ok {
		return nil, fmt.Errorf("unknown event %q", raw.Event)
	}
	ev := &core.Event{Kind: kind, Seq: raw.Seq}
	if raw.At != 0 {
		ev.At = time.Unix(0, raw.At).UTC()
	}

	decode := func(v any) error {
		if len(raw.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw.Data, v); err != nil {
			return fmt.Errorf("decode %s: %w", raw.Event, err)
		}
		return nil
	}

	switch kind {
	case core.EventPresenceChanged:
		var data proto.EventPresence
		if err := decode(&data); err != nil {
			return nil, err
		}
		ev.OnlineUserIDs = data.OnlineUserIDs
	case core.EventMessageCreated, core.EventMessageUpdated:
		var data proto.Message
		if err := decode(&data); err != nil {
			return nil, err
		}
		ev.Message = data.ToStore()
	case core.EventMessageDeleted:
		var data proto.EventMessageDeleted
		if err := decode(&data); err != nil {
			return nil, err
		}
		ev.MessageID, ev.SenderID, ev.ReceiverID = data.MessageID, data.SenderID, data.ReceiverID
	case core.EventReadStatusChanged:
		var data proto.EventReadStatus
		if err := decode(&data); err != nil {
			return nil, err
		}
		ev.ReaderID = data.ReaderID
	case core.EventUnreadCountsChanged:
		var data proto.EventUnreadCounts
		if err := decode(&data); err != nil {
			return nil, err
		}
		ev.UnreadCounts = data.Counts
		if ev.UnreadCounts == nil {
			ev.UnreadCounts = map[int64]int{}
		}
	case core.EventLastMessageChanged:
		var data proto.EventLastMessage
		if err := decode(&data); err != nil {
			return nil, err
		}
		ev.CounterpartID = data.CounterpartID
		ev.LastMessage = data.Message.ToStore()
	}
	return ev, nil
}
