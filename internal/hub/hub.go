// Package hub はグループごとのWebSocket接続を管理し、新しいノートや祈りの課題を購読者へ配信する。
//
// 接続の登録表は Run で起動する1つのゴルーチンだけが所有し、登録・解除・配信はチャネル経由で行う。
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Message はグループの購読者へ配信するメッセージ。
// Allowがnilでない場合、Allow(userID)がtrueの購読者にのみ送る。
type Message struct {
	GroupID string
	Payload []byte
	Allow   func(userID string) bool
}

// Client はWebSocket接続1本。
type Client struct {
	hub     *Hub
	groupID string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
}

type countRequest struct {
	groupID string
	reply   chan int
}

// Hub はグループIDごとの接続集合を持つブローカー。
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	count      chan countRequest
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// New はHubを生成する。allowedOriginが空でない場合、そのOriginからの接続のみ受け付ける。
func New(allowedOrigin string, logger *slog.Logger) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		count:      make(chan countRequest),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
	}
	return h
}

// Run はctxがキャンセルされるまで登録表を管理する。終了時はすべての接続を閉じる。
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[string]map[*Client]struct{})

	remove := func(c *Client) {
		set, ok := clients[c.groupID]
		if !ok {
			return
		}
		if _, ok := set[c]; !ok {
			return
		}
		delete(set, c)
		close(c.send)
		if len(set) == 0 {
			delete(clients, c.groupID)
		}
	}

	defer func() {
		close(h.done)
		for _, set := range clients {
			for c := range set {
				close(c.send)
			}
		}
		h.logger.Info("websocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			set, ok := clients[c.groupID]
			if !ok {
				set = make(map[*Client]struct{})
				clients[c.groupID] = set
			}
			set[c] = struct{}{}

		case c := <-h.unregister:
			remove(c)

		case m := <-h.broadcast:
			for c := range clients[m.GroupID] {
				if m.Allow != nil && !m.Allow(c.userID) {
					continue
				}
				select {
				case c.send <- m.Payload:
				default:
					// 受信が追いつかない接続は切断する
					remove(c)
				}
			}

		case req := <-h.count:
			req.reply <- len(clients[req.groupID])
		}
	}
}

// Broadcast はメッセージを配信キューに入れる。Hubが停止している場合は何もしない。
func (h *Hub) Broadcast(m Message) {
	select {
	case h.broadcast <- m:
	case <-h.done:
	}
}

// ClientCount はグループの接続数を返す。Hubが停止している場合は0。
func (h *Hub) ClientCount(groupID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{groupID: groupID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Serve はHTTP接続をWebSocketにアップグレードし、グループの購読者として登録する。
// 認可は呼び出し側で済ませておくこと。
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, groupID, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		hub:     h,
		groupID: groupID,
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return nil
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// readPump はクライアントからの切断を検出する。受信したメッセージは使わない。
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error",
					slog.String("group_id", c.groupID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump は送信キューのメッセージを書き出し、定期的にpingを送る。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
