package http

import (
	"encoding/json"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
)

type commandKind int

const (
	commandMarkRead commandKind = iota
	commandPing
)

// command is a decoded inbound frame of an authenticated channel.
type command struct {
	kind     commandKind
	senderID int64
}

func inboundToCommand(inbound proto.Inbound) (*command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeMarkRead:
		var data proto.MarkReadData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "invalid mark_read payload"}, nil
		}
		if data.SenderID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "sender_id is required"}, nil
		}
		return &command{kind: commandMarkRead, senderID: data.SenderID}, nil, nil
	case proto.InboundTypePing:
		return &command{kind: commandPing}, nil, nil
	case proto.InboundTypeHello:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "already authenticated"}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: event.Kind.String(),
		Seq:   event.Seq,
	}
	if !event.At.IsZero() {
		out.At = event.At.UnixNano()
	}

	switch event.Kind {
	case core.EventPresenceChanged:
		ids := event.OnlineUserIDs
		if ids == nil {
			ids = []int64{}
		}
		out.Data = proto.EventPresence{OnlineUserIDs: ids}
	case core.EventMessageCreated, core.EventMessageUpdated:
		out.Data = proto.FromStoreMessage(event.Message)
	case core.EventMessageDeleted:
		out.Data = proto.EventMessageDeleted{
			MessageID:  event.MessageID,
			SenderID:   event.SenderID,
			ReceiverID: event.ReceiverID,
		}
	case core.EventReadStatusChanged:
		out.Data = proto.EventReadStatus{ReaderID: event.ReaderID}
	case core.EventUnreadCountsChanged:
		counts := event.UnreadCounts
		if counts == nil {
			counts = map[int64]int{}
		}
		out.Data = proto.EventUnreadCounts{Counts: counts}
	case core.EventLastMessageChanged:
		out.Data = proto.EventLastMessage{
			CounterpartID: event.CounterpartID,
			Message:       proto.FromStoreMessage(event.LastMessage),
		}
	case core.EventError:
		return errorOutbound(event.Error)
	}
	return out
}

func errorOutbound(ce *core.CoreError) proto.Outbound {
	if ce == nil {
		ce = &core.CoreError{Code: core.ErrCodeStorage, Message: "internal server error"}
	}
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: ce.Code, Msg: ce.Message},
	}
}
