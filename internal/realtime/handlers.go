package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/inoue-kamui/20match/internal/chat"
	"github.com/inoue-kamui/20match/internal/fault"
	"github.com/inoue-kamui/20match/internal/metrics"
	"github.com/inoue-kamui/20match/internal/protocol"
	"github.com/inoue-kamui/20match/internal/ratelimit"
	"github.com/inoue-kamui/20match/internal/ws"
)

// handlerTimeout bounds the database work done for a single client frame.
const handlerTimeout = 5 * time.Second

// Bus is the pub/sub surface used for cross-instance room fan-out.
type Bus interface {
	PublishRoomEvent(roomID string, data []byte) error
	SubscribeRoom(roomID string, handler func(data []byte)) error
	UnsubscribeRoom(roomID string) error
}

// Sender delivers an encoded frame to a connection by ID.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// Limiter is the rate-limit check used before accepting a message send.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Handlers owns the WebSocket message handlers for the chat protocol. Each
// handler runs on a dispatcher worker goroutine; direct replies go to the
// originating connection, room events go through the Bus so that every
// instance hosting a subscriber relays them.
type Handlers struct {
	chat    *chat.Service
	reg     *Registry
	bus     Bus
	sender  Sender
	limiter Limiter

	// busMu keeps the registry and the instance's bus subscriptions in
	// step. Without it a join can land between a disconnect's Drop and the
	// UnsubscribeRoom it triggers; SubscribeRoom then no-ops against the
	// stale subscription and the joiner never receives fan-out.
	busMu sync.Mutex
}

// NewHandlers creates the handler set. limiter may be nil, in which case
// sends are not throttled.
func NewHandlers(chatSvc *chat.Service, reg *Registry, bus Bus, sender Sender, limiter Limiter) *Handlers {
	return &Handlers{
		chat:    chatSvc,
		reg:     reg,
		bus:     bus,
		sender:  sender,
		limiter: limiter,
	}
}

// Register wires the handlers into the dispatcher.
func (h *Handlers) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeJoinRoom, h.handleJoinRoom)
	d.Register(protocol.TypeFetchMessages, h.handleFetchMessages)
	d.Register(protocol.TypeSendMessage, h.handleSendMessage)
	d.Register(protocol.TypeMarkRead, h.handleMarkRead)
}

// OnDisconnect tears down all room subscriptions held by the connection and
// closes the instance's bus subscription for rooms left without local
// subscribers. Registered as the server's disconnect callback.
func (h *Handlers) OnDisconnect(connID string) {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	for _, roomID := range h.reg.Drop(connID) {
		if err := h.bus.UnsubscribeRoom(roomID); err != nil {
			log.Printf("realtime: unsubscribe room=%s: %v", roomID, err)
		}
	}
}

// handleJoinRoom authorizes the user for the room and records the
// subscription. The first local subscriber of a room opens the instance's
// bus subscription for it.
func (h *Handlers) handleJoinRoom(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.JoinRoomMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := h.chat.Authorize(ctx, conn.UserID, m.RoomID); err != nil {
		h.sendFault(conn, err)
		return
	}

	h.busMu.Lock()
	if first := h.reg.Join(conn.ID, m.RoomID); first {
		roomID := m.RoomID
		if err := h.bus.SubscribeRoom(roomID, func(data []byte) {
			h.fanOut(roomID, data)
		}); err != nil {
			log.Printf("realtime: subscribe room=%s: %v", roomID, err)
		}
	}
	h.busMu.Unlock()

	resp, _ := protocol.NewServerMessage(protocol.TypeRoomJoined, protocol.RoomJoinedMsg{
		OK:     true,
		RoomID: m.RoomID,
	})
	if err := conn.WriteMessage(resp); err != nil {
		log.Printf("realtime: room_joined reply conn=%s: %v", conn.ID, err)
	}
	log.Printf("realtime: join_room conn=%s user=%s room=%s", conn.ID, conn.UserID, m.RoomID)
}

// handleFetchMessages returns one page of room history to the requesting
// connection.
func (h *Handlers) handleFetchMessages(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.FetchMessagesMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	page, err := h.chat.Messages(ctx, conn.UserID, m.RoomID, m.Cursor, m.Limit)
	if err != nil {
		h.sendFault(conn, err)
		return
	}

	items := make([]protocol.MessageDTO, len(page.Items))
	for i, it := range page.Items {
		items[i] = toDTO(&it)
	}

	resp, _ := protocol.NewServerMessage(protocol.TypeMessages, protocol.MessagesMsg{
		OK:     true,
		RoomID: m.RoomID,
		Messages: protocol.MessagePage{
			Items:      items,
			NextCursor: page.NextCursor,
		},
	})
	if err := conn.WriteMessage(resp); err != nil {
		log.Printf("realtime: messages reply conn=%s: %v", conn.ID, err)
	}
}

// handleSendMessage persists the message, acknowledges the sender, and
// publishes the message_created event to the room. The sender's own
// connections receive the broadcast as well.
func (h *Handlers) handleSendMessage(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage)
		if err == nil && !allowed {
			h.sendAck(conn, nil)
			h.sendError(conn, "rate_limited", "too many messages, slow down")
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return
		}
	}

	created, err := h.chat.Send(ctx, conn.UserID, m.RoomID, m.Content)
	if err != nil {
		h.sendAck(conn, nil)
		h.sendFault(conn, err)
		return
	}

	dto := toDTO(created)
	h.sendAck(conn, &dto)

	event, _ := protocol.NewServerMessage(protocol.TypeMessageCreated, protocol.MessageCreatedMsg{
		Message: dto,
	})
	if err := h.bus.PublishRoomEvent(m.RoomID, event); err != nil {
		log.Printf("realtime: publish message_created room=%s: %v", m.RoomID, err)
	}

	metrics.SendLatency.Observe(time.Since(start).Seconds())
}

// handleMarkRead flags the partner's messages as read and broadcasts the
// receipt to the room, sender included.
func (h *Handlers) handleMarkRead(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.MarkReadMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	n, err := h.chat.MarkRead(ctx, conn.UserID, m.RoomID, m.UpToMessageID)
	if err != nil {
		h.sendFault(conn, err)
		return
	}

	ack, _ := protocol.NewServerMessage(protocol.TypeMarkedRead, protocol.MarkedReadMsg{
		OK:     true,
		RoomID: m.RoomID,
	})
	if err := conn.WriteMessage(ack); err != nil {
		log.Printf("realtime: marked_read reply conn=%s: %v", conn.ID, err)
	}

	event, _ := protocol.NewServerMessage(protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		RoomID:        m.RoomID,
		UserID:        conn.UserID,
		UpToMessageID: m.UpToMessageID,
	})
	if err := h.bus.PublishRoomEvent(m.RoomID, event); err != nil {
		log.Printf("realtime: publish messages_read room=%s: %v", m.RoomID, err)
	}

	log.Printf("realtime: mark_read conn=%s room=%s flagged=%d", conn.ID, m.RoomID, n)
}

// fanOut relays a room event to every local subscriber of the room.
func (h *Handlers) fanOut(roomID string, data []byte) {
	for _, connID := range h.reg.Subscribers(roomID) {
		if err := h.sender.SendMessage(connID, data); err != nil {
			log.Printf("realtime: fan-out to conn=%s failed: %v", connID, err)
		}
	}
	metrics.MessagesTotal.WithLabelValues("broadcast").Inc()
}

// sendAck sends the message_sent acknowledgement; a nil message means the
// send was not accepted.
func (h *Handlers) sendAck(conn *ws.Connection, dto *protocol.MessageDTO) {
	resp, _ := protocol.NewServerMessage(protocol.TypeMessageSent, protocol.MessageSentMsg{
		OK:      dto != nil,
		Message: dto,
	})
	if err := conn.WriteMessage(resp); err != nil {
		log.Printf("realtime: message_sent reply conn=%s: %v", conn.ID, err)
	}
}

// sendFault translates a domain error into an error frame for the client.
func (h *Handlers) sendFault(conn *ws.Connection, err error) {
	h.sendError(conn, string(fault.CodeOf(err)), fault.MessageOf(err))
}

func (h *Handlers) sendError(conn *ws.Connection, code, message string) {
	resp, buildErr := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if buildErr != nil {
		log.Printf("realtime: build error frame conn=%s: %v", conn.ID, buildErr)
		return
	}
	if err := conn.WriteMessage(resp); err != nil {
		log.Printf("realtime: error reply conn=%s: %v", conn.ID, err)
	}
}

func toDTO(m *chat.Message) protocol.MessageDTO {
	return protocol.MessageDTO{
		ID:          m.ID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.MessageType,
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
	}
}
