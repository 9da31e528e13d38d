package proto

import "github.com/vovakirdan/wiredm/internal/store"

// FromStoreMessage converts a persisted message to its wire form. nil stays nil.
func FromStoreMessage(m *store.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
	}
}

// FromStoreMessages converts a slice of persisted messages.
func FromStoreMessages(msgs []*store.Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromStoreMessage(m))
	}
	return out
}

// ToStore converts a wire message back to the domain record. nil stays nil.
func (m *Message) ToStore() *store.Message {
	if m == nil {
		return nil
	}
	return &store.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}
