// internal/gateway/session.go

package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tensae-code/liqlearns-chat-engine/internal/chatsync"
	"github.com/tensae-code/liqlearns-chat-engine/internal/common/utils"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Maximum number of queued outbound frames per session
	maxQueuedFrames = 256
)

// Session binds one websocket connection to one sync engine
type Session struct {
	gw       *Gateway
	conn     *websocket.Conn
	engine   *chatsync.Engine
	playback *chatsync.Playback
	send     chan []byte
	done     chan struct{}
}

func newSession(gw *Gateway, conn *websocket.Conn, engine *chatsync.Engine) *Session {
	s := &Session{
		gw:     gw,
		conn:   conn,
		engine: engine,
		send:   make(chan []byte, maxQueuedFrames),
		done:   make(chan struct{}),
	}
	s.playback = chatsync.NewPlayback(func(messageID string) {
		s.push("playback_stopped", map[string]string{"message_id": messageID})
	})
	return s
}

func (s *Session) start() {
	s.engine.SetHandlers(chatsync.Handlers{
		OnList: func(list []*chatsync.Conversation) {
			s.push("conversation_list", listFrame(list))
		},
		OnSequence: func(conv *chatsync.Conversation, channel *chatsync.ChannelState, messages []*chatsync.Message) {
			s.push("history", historyFrame{Conversation: conv, Channel: channel, Messages: messages})
		},
		OnAppend: func(m *chatsync.Message) {
			s.push("message", m)
		},
	})

	go s.writePump()
	go s.readPump()
}

type historyFrame struct {
	Conversation *chatsync.Conversation `json:"conversation"`
	Channel      *chatsync.ChannelState `json:"channel,omitempty"`
	Messages     []*chatsync.Message    `json:"messages"`
}

// listEntry decorates a conversation with the display timestamp clients
// render in the list
type listEntry struct {
	*chatsync.Conversation
	LastMessageAgo string `json:"last_message_ago,omitempty"`
}

func listFrame(list []*chatsync.Conversation) []listEntry {
	entries := make([]listEntry, 0, len(list))
	for _, conv := range list {
		entry := listEntry{Conversation: conv}
		if !conv.LastMessageAt.IsZero() {
			entry.LastMessageAgo = utils.RelativeTime(conv.LastMessageAt)
		}
		entries = append(entries, entry)
	}
	return entries
}

// push queues an outbound frame. Called from engine handlers, so it must
// never block; a full queue drops the frame for this slow client.
func (s *Session) push(frameType string, data interface{}) {
	frame, err := json.Marshal(outboundFrame{
		Type:      frameType,
		Data:      mustMarshal(data),
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("gateway: marshal %s frame: %v", frameType, err)
		return
	}

	select {
	case s.send <- frame:
	case <-s.done:
	default:
		log.Printf("gateway: dropping %s frame for slow client", frameType)
	}
}

func (s *Session) pushError(frameType string, err error) {
	frame, merr := json.Marshal(outboundFrame{
		Type:      frameType,
		Error:     &frameError{Code: "ERROR", Message: err.Error()},
		Timestamp: time.Now(),
	})
	if merr != nil {
		return
	}
	select {
	case s.send <- frame:
	case <-s.done:
	default:
	}
}

func (s *Session) readPump() {
	defer func() {
		close(s.done)
		s.engine.Close()
		s.playback.ReleaseAll()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("gateway: websocket error: %v", err)
			}
			break
		}

		s.processFrame(message)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-s.done:
			return

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) processFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("gateway: malformed frame: %v", err)
		return
	}

	switch frame.Type {
	case "select":
		s.handleSelect(frame.Data)

	case "switch_channel":
		s.handleSwitchChannel(frame.Data)

	case "send":
		s.handleSend(frame.Data)

	case "typing":
		s.handleTyping(frame.Data)

	case "playback":
		s.handlePlayback(frame.Data)

	case "list":
		s.push("conversation_list", listFrame(s.engine.ConversationList()))

	default:
		log.Printf("gateway: unknown frame type %q", frame.Type)
	}
}

func (s *Session) handleSelect(data json.RawMessage) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.pushError("select", err)
		return
	}

	var target *chatsync.Conversation
	for _, conv := range s.engine.ConversationList() {
		if conv.Key() == req.Key {
			target = conv
			break
		}
	}
	if target == nil {
		s.pushError("select", chatsync.ErrNoActiveConversation)
		return
	}

	s.playback.ReleaseAll()
	if err := s.engine.Select(target); err != nil {
		s.pushError("select", err)
	}
}

func (s *Session) handleSwitchChannel(data json.RawMessage) {
	var req struct {
		GroupID   string `json:"group_id"`
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.pushError("switch_channel", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channels, err := s.gw.repo.ListGroupChannels(ctx, req.GroupID)
	if err != nil {
		s.pushError("switch_channel", err)
		return
	}

	var target *chatsync.ChannelState
	for _, c := range channels {
		if c.ID == req.ChannelID {
			target = c
			break
		}
	}
	if target == nil {
		s.pushError("switch_channel", chatsync.ErrNoActiveConversation)
		return
	}

	s.playback.ReleaseAll()
	if err := s.engine.SwitchChannel(target); err != nil {
		s.pushError("switch_channel", err)
		return
	}

	if target.Type == chatsync.ChannelVoice {
		// The sync engine holds no history for voice; the client is told
		// to hand the channel to the call stack
		s.push("voice_channel", target)
	}
}

func (s *Session) handleSend(data json.RawMessage) {
	var req chatsync.SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.pushError("send", err)
		return
	}

	if err := s.engine.Send(req); err != nil {
		s.pushError("send", err)
	}
}

func (s *Session) handleTyping(data json.RawMessage) {
	var req struct {
		Typing bool `json:"typing"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	s.engine.InputChanged(req.Typing)
}

func (s *Session) handlePlayback(data json.RawMessage) {
	var req struct {
		MessageID string `json:"message_id"`
		Playing   bool   `json:"playing"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	if req.Playing {
		s.playback.Start(req.MessageID)
	} else {
		s.playback.Stop(req.MessageID)
	}
}
