// Package control provides a thin newline-JSON TCP surface for driving the
// channelizer core: start, stop, set frequency, and request status.
//
// Grounded on Cmd.h/Cmd.cpp's CmdTask method set (sendIntrinsics,
// sendStatus, startChannelizer, stopChannelizer) translated to explicit Go
// methods; this is intentionally a stand-in for the original's full SSE
// protocol, which is out of scope here.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"

	"github.com/sigblips/sonata-channelizer/internal/beam"
)

// Commander is the subset of app.App control exposes over the wire.
type Commander interface {
	Start(startTimeSec float64)
	Stop()
	SetFreq(freq float64)
	Status() Status
}

// Status is the JSON snapshot returned by the "status" command.
type Status struct {
	State   string         `json:"state"`
	Net     beam.NetStats  `json:"net"`
	Pending int            `json:"pending_jobs"`
}

// request is the newline-delimited JSON command envelope.
type request struct {
	Command string  `json:"command"`
	StartAt float64 `json:"start_at_unix,omitempty"`
	Freq    float64 `json:"freq_hz,omitempty"`
}

type response struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Server listens on a TCP address and dispatches newline-JSON commands to a
// Commander. Each connection is served on its own goroutine; commands on one
// connection are handled one at a time, in order.
type Server struct {
	ln  net.Listener
	cmd Commander
}

// Listen opens addr and returns a Server ready for Serve.
func Listen(addr string, cmd Commander) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return &Server{ln: ln, cmd: cmd}, nil
}

// Serve accepts connections until Close is called. Intended to run on its
// own goroutine.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(response{OK: false, Error: err.Error()})
			continue
		}
		enc.Encode(s.dispatch(req))
	}
	if err := scanner.Err(); err != nil {
		log.Printf("control: connection read error: %v", err)
	}
}

func (s *Server) dispatch(req request) response {
	switch req.Command {
	case "start":
		s.cmd.Start(req.StartAt)
		return response{OK: true}
	case "stop":
		s.cmd.Stop()
		return response{OK: true}
	case "set_freq":
		s.cmd.SetFreq(req.Freq)
		return response{OK: true}
	case "status":
		st := s.cmd.Status()
		return response{OK: true, Status: &st}
	default:
		return response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}
