package control

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/sigblips/sonata-channelizer/internal/beam"
)

type fakeCommander struct {
	startedAt float64
	stopped   bool
	freq      float64
}

func (f *fakeCommander) Start(startTimeSec float64) { f.startedAt = startTimeSec }
func (f *fakeCommander) Stop()                      { f.stopped = true }
func (f *fakeCommander) SetFreq(freq float64)        { f.freq = freq }
func (f *fakeCommander) Status() Status {
	return Status{State: "RUNNING", Net: beam.NetStats{Total: 42}, Pending: 3}
}

func TestServerDispatchesCommands(t *testing.T) {
	fc := &fakeCommander{}
	srv, err := Listen("127.0.0.1:0", fc)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	conn, err := net.DialTimeout("tcp", srv.ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	send := func(v any) response {
		b, _ := json.Marshal(v)
		conn.Write(append(b, '\n'))
		var resp response
		sc := bufio.NewScanner(conn)
		if !sc.Scan() {
			t.Fatalf("no response: %v", sc.Err())
		}
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			t.Fatalf("bad response JSON: %v", err)
		}
		return resp
	}

	if resp := send(request{Command: "start", StartAt: 100}); !resp.OK {
		t.Fatalf("start failed: %+v", resp)
	}
	if fc.startedAt != 100 {
		t.Fatalf("startedAt = %v, want 100", fc.startedAt)
	}

	conn2, err := net.DialTimeout("tcp", srv.ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn2.Close()
	b, _ := json.Marshal(request{Command: "status"})
	conn2.Write(append(b, '\n'))
	sc := bufio.NewScanner(conn2)
	if !sc.Scan() {
		t.Fatalf("no response: %v", sc.Err())
	}
	var resp response
	if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp.Status == nil || resp.Status.Net.Total != 42 {
		t.Fatalf("unexpected status: %+v", resp.Status)
	}
}

func TestServerRejectsUnknownCommand(t *testing.T) {
	fc := &fakeCommander{}
	srv, err := Listen("127.0.0.1:0", fc)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	conn, err := net.DialTimeout("tcp", srv.ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	b, _ := json.Marshal(request{Command: "frobnicate"})
	conn.Write(append(b, '\n'))
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		t.Fatalf("no response: %v", sc.Err())
	}
	var resp response
	if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected OK=false for unknown command")
	}
}
