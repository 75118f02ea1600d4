// Command loadtest drives pairs of users through login, websocket
// authentication, chat start and a burst of messages in both directions.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mpchat/internal/logging"
)

var (
	baseURL   = flag.String("url", "http://localhost:8080", "server base URL")
	pairCount = flag.Int("pairs", 50, "number of user pairs")
	msgCount  = flag.Int("messages", 20, "messages sent by each user")
	msgDelay  = flag.Duration("delay", 10*time.Millisecond, "pause between messages")
)

var log = logging.New(os.Stdout, "info")

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID string `json:"id"`
	} `json:"user"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	flag.Parse()
	ctx := context.Background()

	log.Info(ctx, "starting load test", "users", *pairCount*2, "messages_per_user", *msgCount)
	start := time.Now()

	var st stats
	var wg sync.WaitGroup
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(ctx, pairID, &st); err != nil {
				st.failed.Add(1)
				log.Warn(ctx, "pair failed", "pair", pairID, "err", err)
			}
		}(i)
	}
	wg.Wait()

	log.Info(ctx, "load test complete",
		"elapsed", time.Since(start).String(),
		"sent", st.sent.Load(),
		"received", st.received.Load(),
		"failed_pairs", st.failed.Load())
}

type peer struct {
	userID string
	conn   *websocket.Conn
	events chan envelope
}

func runPair(ctx context.Context, pairID int, st *stats) error {
	a, err := connect(fmt.Sprintf("u_%d_a", pairID))
	if err != nil {
		return err
	}
	defer a.conn.Close()
	b, err := connect(fmt.Sprintf("u_%d_b", pairID))
	if err != nil {
		return err
	}
	defer b.conn.Close()

	if err := a.send("start_chat", map[string]string{"current_user_id": a.userID, "target_user_id": b.userID}); err != nil {
		return err
	}
	raw, err := a.await("chat_started")
	if err != nil {
		return err
	}
	var started struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(raw, &started); err != nil {
		return err
	}

	for _, p := range []*peer{a, b} {
		if err := p.send("join_chat", map[string]string{"conversation_id": started.ConversationID, "user_id": p.userID}); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for _, p := range []*peer{a, b} {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			p.spam(started.ConversationID, st)
		}(p)
	}
	wg.Wait()

	// each side sees its own messages and the other side's
	want := 2 * *msgCount
	for _, p := range []*peer{a, b} {
		got := p.drain("new_message", want, 5*time.Second)
		st.received.Add(int64(got))
		if got < want {
			return fmt.Errorf("%s received %d of %d messages", p.userID, got, want)
		}
	}
	return nil
}

// connect logs in, opens the websocket and authenticates it.
func connect(username string) (*peer, error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(*baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + url.QueryEscape(lr.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", username, err)
	}

	p := &peer{userID: lr.User.ID, conn: conn, events: make(chan envelope, 1024)}
	go p.readLoop()

	if err := p.send("authenticate", map[string]string{"user_id": p.userID}); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := p.await("authentication_success"); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *peer) readLoop() {
	defer close(p.events)
	for {
		var env envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case p.events <- env:
		default:
			// nobody is draining; drop rather than stall the socket
		}
	}
}

func (p *peer) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.WriteJSON(envelope{Event: event, Data: raw})
}

func (p *peer) await(event string) (json.RawMessage, error) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-p.events:
			if !ok {
				return nil, fmt.Errorf("%s: connection closed waiting for %s", p.userID, event)
			}
			switch env.Event {
			case event:
				return env.Data, nil
			case "error", "authentication_failed":
				return nil, fmt.Errorf("%s: %s: %s", p.userID, env.Event, env.Data)
			}
		case <-timeout:
			return nil, fmt.Errorf("%s: timed out waiting for %s", p.userID, event)
		}
	}
}

func (p *peer) spam(conversationID string, st *stats) {
	for i := 0; i < *msgCount; i++ {
		err := p.send("send_message", map[string]string{
			"conversation_id": conversationID,
			"sender_id":       p.userID,
			"content":         fmt.Sprintf("LoadTest Msg %d from %s", i, p.userID),
		})
		if err != nil {
			log.Warn(context.Background(), "send failed", "user_id", p.userID, "err", err)
			return
		}
		st.sent.Add(1)
		time.Sleep(*msgDelay)
	}
}

// drain counts event frames until want arrive or the quiet period passes.
func (p *peer) drain(event string, want int, quiet time.Duration) int {
	got := 0
	for got < want {
		select {
		case env, ok := <-p.events:
			if !ok {
				return got
			}
			if env.Event == event {
				got++
			}
		case <-time.After(quiet):
			return got
		}
	}
	return got
}
