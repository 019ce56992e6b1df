package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luiscore200/cotizador/internal/domain"
	"github.com/luiscore200/cotizador/internal/generator"
	"github.com/luiscore200/cotizador/internal/prompt"
	"github.com/luiscore200/cotizador/internal/session"
	"github.com/luiscore200/cotizador/internal/timeout"
)

// echoOrchestrator greets on connect and echoes every message.
type echoOrchestrator struct {
	mu           sync.Mutex
	conns        map[string]session.Conn
	messages     []string
	disconnected chan string
}

func newEchoOrchestrator() *echoOrchestrator {
	return &echoOrchestrator{
		conns:        make(map[string]session.Conn),
		disconnected: make(chan string, 4),
	}
}

func (o *echoOrchestrator) OnConnect(ctx context.Context, id string, conn session.Conn) error {
	o.mu.Lock()
	o.conns[id] = conn
	o.mu.Unlock()
	return conn.Send(ctx, domain.NewReply("hola", domain.StructuredContext{}))
}

func (o *echoOrchestrator) OnMessage(ctx context.Context, id, text string) error {
	o.mu.Lock()
	conn := o.conns[id]
	o.messages = append(o.messages, text)
	o.mu.Unlock()
	return conn.Send(ctx, domain.NewReply("eco: "+text, domain.StructuredContext{Address: text}))
}

func (o *echoOrchestrator) OnDisconnect(id, reason string) {
	o.mu.Lock()
	_, ok := o.conns[id]
	delete(o.conns, id)
	o.mu.Unlock()
	if ok {
		o.disconnected <- reason
	}
}

func (o *echoOrchestrator) Messages() prompt.Messages {
	return prompt.DefaultMessages()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, h http.Handler) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return ws, func() {
		_ = ws.CloseNow()
		srv.Close()
	}
}

func readReply(t *testing.T, ws *websocket.Conn) domain.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var r domain.Reply
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, ws.Write(context.Background(), websocket.MessageText, data))
}

func TestHandlerRoundTrip(t *testing.T) {
	orch := newEchoOrchestrator()
	ws, cleanup := dial(t, NewHandler(orch, DefaultLimits(), "*", true, quietLogger()))
	defer cleanup()

	greeting := readReply(t, ws)
	assert.Equal(t, domain.ReplyTypeReply, greeting.Type)
	assert.Equal(t, "hola", greeting.Message)

	send(t, ws, inbound{Type: "message", Message: "Calle 5"})
	reply := readReply(t, ws)
	assert.Equal(t, "eco: Calle 5", reply.Message)
	require.NotNil(t, reply.Data)
	assert.Equal(t, "Calle 5", reply.Data.Address)

	send(t, ws, inbound{Type: "ping"})
	assert.Equal(t, domain.ReplyTypePong, readReply(t, ws).Type)

	require.NoError(t, ws.Write(context.Background(), websocket.MessageText, []byte("texto plano")))
	assert.Equal(t, "eco: texto plano", readReply(t, ws).Message)

	send(t, ws, inbound{Type: "resize"})
	assert.Equal(t, domain.ReplyTypeError, readReply(t, ws).Type)

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "bye"))
	select {
	case reason := <-orch.disconnected:
		assert.Equal(t, session.ReasonClientClosed, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("expected OnDisconnect after client close")
	}
}

func TestHandlerIgnoresBlankMessages(t *testing.T) {
	orch := newEchoOrchestrator()
	ws, cleanup := dial(t, NewHandler(orch, DefaultLimits(), "*", true, quietLogger()))
	defer cleanup()
	readReply(t, ws)

	send(t, ws, inbound{Message: "   "})
	send(t, ws, inbound{Message: "hola"})

	assert.Equal(t, "eco: hola", readReply(t, ws).Message)
	orch.mu.Lock()
	defer orch.mu.Unlock()
	assert.Equal(t, []string{"hola"}, orch.messages)
}

func TestHandlerRateLimitsMessages(t *testing.T) {
	orch := newEchoOrchestrator()
	limits := Limits{MessagesPerMinute: 1, Burst: 1}
	ws, cleanup := dial(t, NewHandler(orch, limits, "*", true, quietLogger()))
	defer cleanup()
	readReply(t, ws)

	send(t, ws, inbound{Message: "uno"})
	send(t, ws, inbound{Message: "dos"})

	got := []domain.Reply{readReply(t, ws), readReply(t, ws)}
	types := map[domain.ReplyType]int{}
	for _, r := range got {
		types[r.Type]++
	}
	assert.Equal(t, 1, types[domain.ReplyTypeReply])
	assert.Equal(t, 1, types[domain.ReplyTypeRateLimited])
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	h := NewHandler(newEchoOrchestrator(), DefaultLimits(), "https://cotiza.example", false, quietLogger())
	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type staticGenerator struct{}

func (staticGenerator) Name() string { return "static" }

func (staticGenerator) Generate(ctx context.Context, pc generator.PromptContext) (string, error) {
	return "```json\n{\"data\":{},\"message\":\"Hola\"}\n```", nil
}

func TestHandlerClosesInactiveSession(t *testing.T) {
	clock := timeout.NewFakeClock()
	inv := generator.NewInvoker(staticGenerator{}, generator.RetryConfig{MaxAttempts: 1}, quietLogger())
	orch := session.NewOrchestrator(inv, session.Config{
		InactivityTimeout: time.Minute,
		Clock:             clock,
		Logger:            quietLogger(),
	})
	ws, cleanup := dial(t, NewHandler(orch, DefaultLimits(), "*", true, quietLogger()))
	defer cleanup()

	assert.Equal(t, "Hola", readReply(t, ws).Message)
	require.Eventually(t, func() bool { return clock.Pending() == 1 }, 5*time.Second, 10*time.Millisecond)

	go func() {
		clock.Advance(time.Minute)
		clock.Advance(time.Minute)
	}()

	assert.Equal(t, domain.ReplyTypeWarning, readReply(t, ws).Type)
	assert.Equal(t, domain.ReplyTypeClosing, readReply(t, ws).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := ws.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return orch.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}
