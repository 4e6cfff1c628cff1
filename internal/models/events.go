package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire event type tags. The inbound set is closed: anything else is rejected
// at the transport boundary and never travels further as an untyped payload.
const (
	EventMessage        = "message"
	EventAck            = "ack"
	EventTyping         = "typing"
	EventPresence       = "presence"
	EventDeliveryStatus = "delivery-status"
	EventError          = "error"
)

// InboundEvent is one of the typed client-to-server events.
type InboundEvent interface {
	inbound()
}

// MessageEvent submits a message body into a room.
type MessageEvent struct {
	RoomID int64  `json:"room_id"`
	Body   string `json:"body"`
}

// AckEvent advances the caller's delivery record for one message.
type AckEvent struct {
	RoomID    int64          `json:"room_id"`
	MessageID int64          `json:"message_id"`
	Status    DeliveryStatus `json:"status"`
}

// TypingEvent toggles the caller's ephemeral typing indicator for a room.
type TypingEvent struct {
	RoomID   int64 `json:"room_id"`
	IsTyping bool  `json:"is_typing"`
}

func (MessageEvent) inbound() {}
func (AckEvent) inbound()     {}
func (TypingEvent) inbound()  {}

// DecodeInbound parses a raw frame into a typed event based on its "type" tag.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch tag.Type {
	case EventMessage:
		var ev MessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode message event: %w", err)
		}
		if ev.RoomID <= 0 || ev.Body == "" {
			return nil, fmt.Errorf("message event requires room_id and body")
		}
		return ev, nil
	case EventAck:
		var ev AckEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode ack event: %w", err)
		}
		if ev.RoomID <= 0 || ev.MessageID <= 0 {
			return nil, fmt.Errorf("ack event requires room_id and message_id")
		}
		return ev, nil
	case EventTyping:
		var ev TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode typing event: %w", err)
		}
		if ev.RoomID <= 0 {
			return nil, fmt.Errorf("typing event requires room_id")
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", tag.Type)
	}
}

// MessageOut is the fan-out frame for a routed message.
type MessageOut struct {
	Type      string    `json:"type"`
	RoomID    int64     `json:"room_id"`
	MessageID int64     `json:"message_id"`
	SenderID  int64     `json:"sender_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageOut builds the outbound frame for a persisted message.
func NewMessageOut(msg Message) MessageOut {
	return MessageOut{
		Type:      EventMessage,
		RoomID:    msg.RoomID,
		MessageID: msg.Seq,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Timestamp: msg.CreatedAt,
	}
}

// TypingOut relays a typing indicator to room peers.
type TypingOut struct {
	Type      string    `json:"type"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTypingOut builds the outbound frame for a typing indicator.
func NewTypingOut(roomID, userID int64, isTyping bool) TypingOut {
	return TypingOut{
		Type:      EventTyping,
		RoomID:    roomID,
		UserID:    userID,
		IsTyping:  isTyping,
		Timestamp: time.Now(),
	}
}

// PresenceOut notifies room peers of a presence transition.
type PresenceOut struct {
	Type      string        `json:"type"`
	UserID    int64         `json:"user_id"`
	State     PresenceState `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
}

// DeliveryStatusOut notifies room members of a delivery-record transition.
type DeliveryStatusOut struct {
	Type        string         `json:"type"`
	RoomID      int64          `json:"room_id"`
	MessageID   int64          `json:"message_id"`
	RecipientID int64          `json:"recipient_id"`
	Status      DeliveryStatus `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewDeliveryStatusOut builds the outbound frame for a delivery transition.
func NewDeliveryStatusOut(rec DeliveryRecord) DeliveryStatusOut {
	return DeliveryStatusOut{
		Type:        EventDeliveryStatus,
		RoomID:      rec.RoomID,
		MessageID:   rec.Seq,
		RecipientID: rec.RecipientID,
		Status:      rec.Status,
		Timestamp:   rec.UpdatedAt,
	}
}

// ErrorOut reports a rejected inbound event back to the offending client.
type ErrorOut struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
