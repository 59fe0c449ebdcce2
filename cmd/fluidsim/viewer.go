package main

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/fluid"
)

//go:embed viewer.html
var viewerHTML []byte

var upgrader = websocket.Upgrader{
	// The viewer is a localhost demo; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// impulse is one velocity injection requested by a client. Coordinates
// are normalized to [0,1] so clients need not know the grid size.
type impulse struct {
	X  float32 `json:"x"`
	Y  float32 `json:"y"`
	VX float32 `json:"vx"`
	VY float32 `json:"vy"`
}

// viewer owns the live-simulation loop and its websocket clients. The
// Simulator is not safe for concurrent use, so only the loop goroutine
// touches it; client goroutines hand impulses over a channel and receive
// encoded frames.
type viewer struct {
	s *session

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	frame   []byte

	impulses chan impulse
	done     chan struct{}
	stopped  chan struct{}
}

// serveViewer runs the simulation continuously and serves it at addr:
// an HTML page at /, heatmap frames and impulse input on the websocket
// at /ws. It blocks until the listener fails.
func serveViewer(addr string, con *SimulationConfig, backendName, maskFile string, maskCell int) error {
	s, err := newSession(con, backendName, maskFile, maskCell)
	if err != nil {
		return err
	}
	defer s.close()

	v := newViewer(s)
	v.start()
	defer v.stop()

	slog.Info("viewer listening", "addr", addr, "grid", fmt.Sprintf("%dx%d", con.Width, con.Height))
	return http.ListenAndServe(addr, v.routes())
}

func newViewer(s *session) *viewer {
	return &viewer{
		s:        s,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		impulses: make(chan impulse, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (v *viewer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", v.home)
	mux.HandleFunc("/ws", v.handleWS)
	return mux
}

// start launches the simulation loop.
func (v *viewer) start() {
	go v.loop()
}

// stop halts the simulation loop and waits for it to finish, so the
// session can be closed safely afterwards. The session stays open; its
// owner closes it.
func (v *viewer) stop() {
	close(v.done)
	<-v.stopped
}

func (v *viewer) home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(viewerHTML)
}

func (v *viewer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	connMu := &sync.Mutex{}
	v.mu.Lock()
	v.clients[conn] = connMu
	frame := v.frame
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		delete(v.clients, conn)
		v.mu.Unlock()
	}()
	slog.Info("viewer client connected", "remote", r.RemoteAddr)

	// New clients see the latest frame immediately instead of a blank
	// canvas until the next tick.
	if frame != nil {
		connMu.Lock()
		err = conn.WriteMessage(websocket.BinaryMessage, frame)
		connMu.Unlock()
		if err != nil {
			return
		}
	}

	for {
		var imp impulse
		if err := conn.ReadJSON(&imp); err != nil {
			slog.Debug("viewer client gone", "remote", r.RemoteAddr, "error", err)
			return
		}
		select {
		case v.impulses <- imp:
		default:
			// Drop stirs rather than stall the reader when the loop
			// falls behind.
		}
	}
}

// loop ticks the simulation at the configured time step and broadcasts
// an encoded frame after every tick.
func (v *viewer) loop() {
	defer close(v.stopped)

	dt := float32(v.s.con.TimeStep)
	ticker := time.NewTicker(time.Duration(float64(time.Second) * v.s.con.TimeStep))
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return
		case <-ticker.C:
		}

		if err := v.applyImpulses(); err != nil {
			slog.Error("viewer impulse failed", "error", err)
			return
		}
		if err := v.s.tick(dt); err != nil {
			slog.Error("viewer tick failed", "error", err)
			return
		}

		frame, err := v.encodeFrame()
		if err != nil {
			slog.Error("viewer readback failed", "error", err)
			return
		}
		v.broadcast(frame)
	}
}

// applyImpulses drains pending client stirs into the simulator.
func (v *viewer) applyImpulses() error {
	w, h := v.s.sim.Size()
	radius := float32(w) / 32
	for {
		select {
		case imp := <-v.impulses:
			pos := fluid.V2(imp.X*float32(w), imp.Y*float32(h))
			vel := fluid.V2(imp.VX, imp.VY)
			if err := v.s.sim.AddVelocity(pos, vel, radius); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// encodeFrame reads the velocity field back and packs one binary frame:
// two little-endian uint32 grid dimensions, then one magnitude byte per
// cell.
func (v *viewer) encodeFrame() ([]byte, error) {
	data, err := v.s.dev.ReadField(v.s.sim.VelocityField())
	if err != nil {
		return nil, err
	}
	w, h := v.s.sim.Size()

	frame := make([]byte, 8+w*h)
	binary.LittleEndian.PutUint32(frame[0:], uint32(w))
	binary.LittleEndian.PutUint32(frame[4:], uint32(h))
	copy(frame[8:], velocityGray(data, w*h))
	return frame, nil
}

// broadcast stores the frame for late joiners and sends it to every
// connected client, dropping clients whose writes fail.
func (v *viewer) broadcast(frame []byte) {
	v.mu.Lock()
	v.frame = frame
	conns := make(map[*websocket.Conn]*sync.Mutex, len(v.clients))
	for c, m := range v.clients {
		conns[c] = m
	}
	v.mu.Unlock()

	for conn, connMu := range conns {
		connMu.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, frame)
		connMu.Unlock()
		if err != nil {
			slog.Debug("viewer write failed", "error", err)
			_ = conn.Close()
			v.mu.Lock()
			delete(v.clients, conn)
			v.mu.Unlock()
		}
	}
}
