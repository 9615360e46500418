package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jayanth920/taskfront/domain"
)

// startWS runs an httptest server that upgrades /ws and hands the connection
// plus the handshake query to the given handler.
func startWS(t *testing.T, handler func(conn *websocket.Conn, query url.Values)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r.URL.Query())
	}))
	t.Cleanup(srv.Close)
	return srv
}

// discardUntilClose keeps the server side open until the client hangs up.
func discardUntilClose(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, m Message) {
	t.Helper()
	data, err := Encode(m)
	if err != nil {
		t.Errorf("encode frame: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Errorf("write frame: %v", err)
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDialSendsScopeAndToken(t *testing.T) {
	queries := make(chan url.Values, 1)
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		queries <- q
		discardUntilClose(conn)
	})

	sess, err := Dial(context.Background(), srv.URL, "b1", Options{Token: "secret"})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	if got := sess.Status(); got != StatusOpen {
		t.Fatalf("got status %v after dial, want open", got)
	}
	select {
	case q := <-queries:
		if q.Get("boardId") != "b1" {
			t.Fatalf("got boardId %q, want %q", q.Get("boardId"), "b1")
		}
		if q.Get("token") != "secret" {
			t.Fatalf("got token %q, want %q", q.Get("token"), "secret")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handshake query never arrived")
	}
}

func TestDialRejectsBadTarget(t *testing.T) {
	if _, err := Dial(context.Background(), "ftp://example.com", "b1", Options{}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := Dial(context.Background(), "http://127.0.0.1:1", "", Options{}); err == nil {
		t.Fatal("expected error for empty board id")
	}
}

func TestSessionDeliversFramesInOrder(t *testing.T) {
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		writeFrame(t, conn, Init{BoardID: "b1", Tasks: []domain.Task{{ID: "t1", Title: "a", Group: domain.GroupTodo}}})
		writeFrame(t, conn, TaskCreated{BoardID: "b1", Task: domain.Task{ID: "t2", Title: "b", Group: domain.GroupTodo, Order: 1}})
		writeFrame(t, conn, TaskDeleted{BoardID: "b1", ID: "t1"})
		discardUntilClose(conn)
	})

	var mu sync.Mutex
	var got []string
	three := make(chan struct{})
	sess, err := Dial(context.Background(), srv.URL, "b1", Options{
		OnMessage: func(m Message) {
			mu.Lock()
			got = append(got, m.Type())
			n := len(got)
			mu.Unlock()
			if n == 3 {
				close(three)
			}
		},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	waitSignal(t, three, "three frames")
	mu.Lock()
	defer mu.Unlock()
	want := []string{TypeInit, TypeTaskCreated, TypeTaskDeleted}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: got %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestSendReachesServer(t *testing.T) {
	received := make(chan Message, 1)
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		received <- msg
		discardUntilClose(conn)
	})

	sess, err := Dial(context.Background(), srv.URL, "b1", Options{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	out := Reorder{BoardID: "b1", Tasks: []domain.Task{{ID: "t1", Title: "a", Group: domain.GroupDone}}}
	if err := sess.Send(out); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case msg := <-received:
		re, ok := msg.(Reorder)
		if !ok {
			t.Fatalf("server got %T, want Reorder", msg)
		}
		if len(re.Tasks) != 1 || re.Tasks[0].ID != "t1" {
			t.Fatalf("unexpected reorder payload: %+v", re.Tasks)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestSendAfterCloseReturnsErrNotOpen(t *testing.T) {
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		discardUntilClose(conn)
	})

	sess, err := Dial(context.Background(), srv.URL, "b1", Options{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sess.Send(Reorder{BoardID: "b1"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("got %v, want ErrNotOpen", err)
	}
}

func TestServerDisconnectClosesSession(t *testing.T) {
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		// Returning closes the connection from the server side.
	})

	var mu sync.Mutex
	var statuses []Status
	closed := make(chan struct{})
	sess, err := Dial(context.Background(), srv.URL, "b1", Options{
		OnStatus: func(st Status) {
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
			if st == StatusClosed {
				close(closed)
			}
		},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	waitSignal(t, closed, "closed status")
	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusConnecting, StatusOpen, StatusClosed}
	if len(statuses) != len(want) {
		t.Fatalf("got statuses %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("got statuses %v, want %v", statuses, want)
		}
	}
}

func TestUnknownFrameIsIgnored(t *testing.T) {
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"board_archived","boardId":"b1"}`)); err != nil {
			t.Errorf("write unknown frame: %v", err)
			return
		}
		writeFrame(t, conn, TaskDeleted{BoardID: "b1", ID: "t1"})
		discardUntilClose(conn)
	})

	var mu sync.Mutex
	var got []string
	one := make(chan struct{})
	sess, err := Dial(context.Background(), srv.URL, "b1", Options{
		OnMessage: func(m Message) {
			mu.Lock()
			got = append(got, m.Type())
			n := len(got)
			mu.Unlock()
			if n == 1 {
				close(one)
			}
		},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	waitSignal(t, one, "known frame")
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != TypeTaskDeleted {
		t.Fatalf("got %v, want only task_deleted", got)
	}
}

func TestReconnectRedialsAfterDrop(t *testing.T) {
	var attempts int32
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return
		}
		writeFrame(t, conn, Init{BoardID: "b1", Tasks: nil})
		discardUntilClose(conn)
	})

	reopened := make(chan struct{})
	gotInit := make(chan struct{})
	var opens int32
	sess, err := Dial(context.Background(), srv.URL, "b1", Options{
		Reconnect: true,
		OnStatus: func(st Status) {
			if st == StatusOpen && atomic.AddInt32(&opens, 1) == 2 {
				close(reopened)
			}
		},
		OnMessage: func(m Message) {
			if m.Type() == TypeInit {
				close(gotInit)
			}
		},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	waitSignal(t, reopened, "second open")
	waitSignal(t, gotInit, "init after reconnect")
	if got := atomic.LoadInt32(&attempts); got < 2 {
		t.Fatalf("server saw %d connections, want at least 2", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := startWS(t, func(conn *websocket.Conn, q url.Values) {
		discardUntilClose(conn)
	})

	var closedCount int32
	sess, err := Dial(context.Background(), srv.URL, "b1", Options{
		OnStatus: func(st Status) {
			if st == StatusClosed {
				atomic.AddInt32(&closedCount, 1)
			}
		},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if got := atomic.LoadInt32(&closedCount); got != 1 {
		t.Fatalf("closed status fired %d times, want 1", got)
	}
	if sess.Status() != StatusClosed {
		t.Fatalf("got status %v, want closed", sess.Status())
	}
}
