package server

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/ws/iso8583"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamDecodesEachFrame(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialStream(t, ts.URL)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	frames := []string{sampleAuth, "0200723800000000000G", "  " + sampleAuth + "\n"}
	for i, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
		var reply struct {
			Seq    int               `json:"seq"`
			MTI    string            `json:"mti"`
			Fields map[string]string `json:"fields"`
			Error  string            `json:"error"`
			Kind   string            `json:"kind"`
		}
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if reply.Seq != i+1 {
			t.Fatalf("seq = %d, want %d", reply.Seq, i+1)
		}
		if i == 1 {
			if reply.Kind != "InvalidBitmap" || !strings.HasPrefix(reply.Error, "Parse error: ") {
				t.Fatalf("error reply = %+v", reply)
			}
			continue
		}
		if reply.MTI != "0200" || !strings.HasPrefix(reply.Fields["2_PAN_tokenized"], "tok_pan_") {
			t.Fatalf("reply = %+v", reply)
		}
	}

	snap := srv.Processor().Metrics.Snapshot()
	if snap.BySource[wsSource] != 3 || snap.Failed != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestStreamRejectsOversizedFrame(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialStream(t, ts.URL)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	big := strings.Repeat("0", DefaultMaxMessageBytes+1)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the session to close")
	}
}

func TestStreamRequiresUpgrade(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/ws/iso8583")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
