// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinRoom      = "join_room"
	TypeFetchMessages = "fetch_messages"
	TypeSendMessage   = "send_message"
	TypeMarkRead      = "mark_read"
	TypePing          = "ping"
)

// Server -> Client message types.
const (
	TypeRoomJoined     = "room_joined"
	TypeMessages       = "messages"
	TypeMessageSent    = "message_sent"
	TypeMessageCreated = "message_created"
	TypeMarkedRead     = "marked_read"
	TypeMessagesRead   = "messages_read"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payload structs
// ---------------------------------------------------------------------------

// MessageDTO is the wire representation of a persisted chat message.
type MessageDTO struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	SenderID    string    `json:"senderId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinRoomMsg is sent by the client to subscribe to a chat room's events.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// FetchMessagesMsg is sent by the client to request a page of room history.
// Cursor is the message ID to resume from; empty means the newest page.
type FetchMessagesMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

// SendMessageMsg is sent by the client to post a text message into a room.
type SendMessageMsg struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// MarkReadMsg is sent by the client to flag the partner's messages as read,
// optionally bounded by a reference message ID.
type MarkReadMsg struct {
	Type          string `json:"type"`
	RoomID        string `json:"roomId"`
	UpToMessageID string `json:"upToMessageId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// RoomJoinedMsg confirms a room subscription.
type RoomJoinedMsg struct {
	Type   string `json:"type"`
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId"`
}

// MessagePage is one page of room history in ascending creation order.
// NextCursor is empty when no older page exists.
type MessagePage struct {
	Items      []MessageDTO `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// MessagesMsg is the reply to a fetch_messages request.
type MessagesMsg struct {
	Type     string      `json:"type"`
	OK       bool        `json:"ok"`
	RoomID   string      `json:"roomId"`
	Messages MessagePage `json:"messages"`
}

// MessageSentMsg is the direct acknowledgement to the sender of a
// send_message request.
type MessageSentMsg struct {
	Type    string      `json:"type"`
	OK      bool        `json:"ok"`
	Message *MessageDTO `json:"message,omitempty"`
}

// MessageCreatedMsg is broadcast to every connection subscribed to the room,
// including the sender's own connections.
type MessageCreatedMsg struct {
	Type    string     `json:"type"`
	Message MessageDTO `json:"message"`
}

// MarkedReadMsg is the direct acknowledgement to the caller of a mark_read
// request.
type MarkedReadMsg struct {
	Type   string `json:"type"`
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId"`
}

// MessagesReadMsg is broadcast to the room when a participant flags the
// partner's messages as read.
type MessagesReadMsg struct {
	Type          string `json:"type"`
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	UpToMessageID string `json:"upToMessageId,omitempty"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFetchMessages:
		var m FetchMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
