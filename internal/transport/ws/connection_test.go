package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// dialTestSocket stands up a loopback websocket server and returns the client
// side of an accepted connection plus the server side for driving frames.
func dialTestSocket(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- sock
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case server = <-serverConns:
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the connection")
	}
	t.Cleanup(func() { server.Close(websocket.StatusNormalClosure, "") })
	return client, server
}

func waitGroupDone(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestConn_CloseBeforeRunBalancesWaitGroup(t *testing.T) {
	client, _ := dialTestSocket(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	closed := 0
	conn := NewConn(context.Background(), &wg, client, discardLogger(),
		func(ctx context.Context, msg []byte) {},
		func(err error) {
			mu.Lock()
			closed++
			mu.Unlock()
		})

	// Shutdown can close a connection before its pumps ever start; the
	// WaitGroup must stay balanced and the close handler must fire once.
	conn.Close(nil)
	if !waitGroupDone(&wg, 2*time.Second) {
		t.Fatal("WaitGroup never released after Close")
	}

	conn.Run()
	<-conn.Done()

	if err := conn.Send([]byte("late")); err == nil {
		t.Error("expected Send on a closed connection to fail")
	}
	mu.Lock()
	if closed != 1 {
		t.Errorf("close handler fired %d times, want 1", closed)
	}
	mu.Unlock()
}

func TestConn_PumpsDeliverFramesBothWays(t *testing.T) {
	client, server := dialTestSocket(t)

	var wg sync.WaitGroup
	received := make(chan []byte, 1)
	conn := NewConn(context.Background(), &wg, client, discardLogger(),
		func(ctx context.Context, msg []byte) { received <- msg }, nil)
	conn.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Write(ctx, websocket.MessageText, []byte(`{"event":"ping"}`)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
	select {
	case msg := <-received:
		if string(msg) != `{"event":"ping"}` {
			t.Errorf("unexpected inbound frame: %s", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("inbound frame never reached the message handler")
	}

	if err := conn.Send([]byte(`{"event":"pong"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	_, data, err := server.Read(ctx)
	if err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	if string(data) != `{"event":"pong"}` {
		t.Errorf("unexpected outbound frame: %s", data)
	}

	conn.Close(nil)
	<-conn.Done()
	if !waitGroupDone(&wg, 2*time.Second) {
		t.Fatal("WaitGroup never released after Close")
	}
}
