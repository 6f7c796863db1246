// internal/gateway/gateway.go

package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tensae-code/liqlearns-chat-engine/internal/chatsync"
	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
	"github.com/tensae-code/liqlearns-chat-engine/internal/presence"
	"github.com/tensae-code/liqlearns-chat-engine/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper CORS checking
		return true
	},
}

// outboundFrame wraps everything the gateway sends to a client
type outboundFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *frameError     `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("gateway: failed to marshal data: %v", err)
		return json.RawMessage(`{}`)
	}
	return data
}

// Gateway upgrades websocket connections and binds each one to a per-user
// sync engine
type Gateway struct {
	repo        chatsync.Repository
	resolver    identity.Resolver
	bus         realtime.Bus
	presence    presence.Notifier
	dmLimit     int
	loadTimeout time.Duration
}

func NewGateway(repo chatsync.Repository, resolver identity.Resolver, bus realtime.Bus, notifier presence.Notifier, dmLimit int, loadTimeout time.Duration) *Gateway {
	return &Gateway{
		repo:        repo,
		resolver:    resolver,
		bus:         bus,
		presence:    notifier,
		dmLimit:     dmLimit,
		loadTimeout: loadTimeout,
	}
}

// HandleWebSocket is the /ws endpoint. The session principal arrives via
// the principal query parameter; token verification belongs to the edge
// proxy in front of this service.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal := identity.PrincipalID(r.URL.Query().Get("principal"))
	if principal == "" {
		http.Error(w, "missing principal", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	agg := chatsync.NewAggregator(g.repo, g.resolver, g.dmLimit)
	engine := chatsync.NewEngine(principal, g.repo, g.resolver, g.bus, agg, chatsync.Options{
		LoadTimeout: g.loadTimeout,
		Presence:    g.presence,
	})

	session := newSession(g, conn, engine)
	session.start()

	if err := engine.Start(); err != nil {
		log.Printf("gateway: engine start failed for %s: %v", principal, err)
		session.pushError("start", err)
		conn.Close()
		return
	}

	// The profile resolves after the session opens. Until it lands the
	// engine serves the DM-only list; SetProfile triggers the refresh that
	// fills in groups.
	go g.resolveProfile(engine, principal)
}

func (g *Gateway) resolveProfile(engine *chatsync.Engine, principal identity.PrincipalID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	profile, err := g.resolver.ByPrincipal(ctx, principal)
	if err != nil {
		log.Printf("gateway: profile resolution failed for %s: %v", principal, err)
		return
	}
	if err := engine.SetProfile(profile); err != nil {
		log.Printf("gateway: profile handoff failed for %s: %v", principal, err)
	}
}
