// Command fluidsim runs the stable-fluids solver headless and writes the
// final velocity field as a grayscale PNG, or serves it live to a browser.
//
// The compute driver is chosen automatically from the registered drivers,
// GPU first with cpu as the fallback, and can be forced with -backend.
// An upward jet at the bottom center of the grid drives the flow. An
// optional PNG mask turns dark pixels into static obstacles, so the jet
// has something to flow around:
//
//	fluidsim -backend cpu -config sim.gcfg -mask logo.png -o flow.png
//
// With -serve the solver runs continuously instead and streams velocity
// heatmap frames to connected browsers, which can stir the fluid by
// dragging:
//
//	fluidsim -serve :8080
//
// Run with -print-config for an annotated example config file.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/gogpu/fluid"
	"github.com/gogpu/fluid/backend"

	_ "github.com/gogpu/fluid/backend/cpu"
	_ "github.com/gogpu/fluid/backend/opencl"
	_ "github.com/gogpu/fluid/backend/wgpu"
)

func main() {
	var (
		backendName = flag.String("backend", "",
			fmt.Sprintf("compute driver (%s); automatic when empty", strings.Join(backend.Available(), ", ")))
		config    = flag.String("config", "", "gcfg config file; defaults apply when empty")
		mask      = flag.String("mask", "", "PNG obstacle mask; dark pixels become static obstacles")
		maskCell  = flag.Int("mask-cell", 8, "obstacle sampling block edge in grid cells")
		output    = flag.String("o", "fluid.png", "output heatmap file")
		serve     = flag.String("serve", "", "serve the simulation live at this address instead of writing a PNG")
		printConf = flag.Bool("print-config", false, "print an example config file and exit")
		verbose   = flag.Bool("v", false, "log per-tick timings")
	)
	flag.Parse()

	if *printConf {
		fmt.Println(ExampleConfigFile)
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	fluid.SetLogger(logger)

	con := &DefaultSimulationWrapper().Simulation
	if *config != "" {
		var err error
		con, err = ReadConfig(*config)
		if err != nil {
			log.Fatalf("Failed to read config: %v", err)
		}
	}

	if *serve != "" {
		if err := serveViewer(*serve, con, *backendName, *mask, *maskCell); err != nil {
			log.Fatalf("Viewer failed: %v", err)
		}
		return
	}
	if err := run(con, *backendName, *mask, *maskCell, *output); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}
}

func openDevice(name string) (backend.Device, error) {
	if name == "" {
		return backend.Default()
	}
	return backend.Open(name)
}

// session is one configured simulation: the opened device, the simulator,
// the mask obstacles, and the jet impulse that drives the flow. Both the
// batch runner and the live viewer tick the same session.
type session struct {
	dev       backend.Device
	sim       *fluid.Simulator
	con       *SimulationConfig
	obstacles []obstacle

	jetPos    fluid.Vec2
	jetVel    fluid.Vec2
	jetRadius float32
}

func newSession(con *SimulationConfig, backendName, maskFile string, maskCell int) (*session, error) {
	dev, err := openDevice(backendName)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	slog.Info("device ready", "device", dev.Name())

	sim, err := fluid.New(dev, con.Width, con.Height, con.Options()...)
	if err != nil {
		dev.Close()
		return nil, err
	}

	var obstacles []obstacle
	if maskFile != "" {
		obstacles, err = loadObstacleMask(maskFile, con.Width, con.Height, maskCell)
		if err != nil {
			_ = sim.Close()
			dev.Close()
			return nil, fmt.Errorf("load mask: %w", err)
		}
		slog.Info("obstacle mask loaded", "file", maskFile, "circles", len(obstacles))
	}

	return &session{
		dev:       dev,
		sim:       sim,
		con:       con,
		obstacles: obstacles,

		// Jet impulse at the bottom center, pointing up. Scaled to the
		// grid so the defaults look the same at any resolution.
		jetPos:    fluid.V2(float32(con.Width)/2, float32(con.Height)*0.9),
		jetVel:    fluid.V2(0, -float32(con.Height)/4),
		jetRadius: float32(con.Width) / 24,
	}, nil
}

// tick drives one frame: the jet impulse, the re-stamped mask obstacles,
// then one solver update. The step clears the obstacle field, so the mask
// is re-stamped every tick.
func (s *session) tick(dt float32) error {
	if err := s.sim.AddVelocity(s.jetPos, s.jetVel, s.jetRadius); err != nil {
		return err
	}
	for _, ob := range s.obstacles {
		if err := s.sim.AddCircleObstacle(ob.pos, ob.radius, true); err != nil {
			return err
		}
	}
	return s.sim.Update(dt)
}

func (s *session) close() {
	_ = s.sim.Close()
	s.dev.Close()
}

func run(con *SimulationConfig, backendName, maskFile string, maskCell int, outFile string) error {
	s, err := newSession(con, backendName, maskFile, maskCell)
	if err != nil {
		return err
	}
	defer s.close()

	dt := float32(con.TimeStep)
	start := time.Now()
	for tick := 0; tick < con.Ticks; tick++ {
		t0 := time.Now()
		if err := s.tick(dt); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
		slog.Debug("tick", "n", tick, "elapsed", time.Since(t0))
	}

	st := s.sim.Stats()
	slog.Info("simulation done",
		"ticks", st.Ticks, "dispatches", st.Dispatches, "wall", time.Since(start))

	if err := writeHeatmap(s.dev, s.sim, outFile); err != nil {
		return fmt.Errorf("write heatmap: %w", err)
	}
	slog.Info("heatmap written", "file", outFile, "size", fmt.Sprintf("%dx%d", con.Width, con.Height))
	return nil
}

// velocityGray converts a vector2 field readback to 8-bit magnitude
// pixels, normalized to the brightest cell.
func velocityGray(data []float32, cells int) []byte {
	mags := make([]float32, cells)
	var peak float32
	for i := range mags {
		vx, vy := data[2*i], data[2*i+1]
		m := float32(math.Hypot(float64(vx), float64(vy)))
		mags[i] = m
		if m > peak {
			peak = m
		}
	}
	if peak == 0 {
		peak = 1
	}

	pix := make([]byte, cells)
	for i, m := range mags {
		pix[i] = uint8(m / peak * 255)
	}
	return pix
}

// writeHeatmap reads back the velocity field and writes its magnitude,
// normalized to the brightest cell, as a grayscale PNG.
func writeHeatmap(dev backend.Device, sim *fluid.Simulator, fname string) error {
	data, err := dev.ReadField(sim.VelocityField())
	if err != nil {
		return err
	}

	width, height := sim.Size()
	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, velocityGray(data, width*height))

	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return png.Encode(f, img)
}
