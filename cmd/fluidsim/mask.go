package main

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/fluid"
)

// obstacle is one circle stamped into the obstacle field. The field is
// cleared at the end of every step, so the driver re-stamps the whole
// set each tick.
type obstacle struct {
	pos    fluid.Vec2
	radius float32
}

// loadObstacleMask reads a PNG, downsamples it to one sample per
// cell*cell block of the simulation grid, and turns every dark sample
// into a static circle obstacle. The circle radius covers the block
// corners so adjacent samples form a closed wall.
func loadObstacleMask(fname string, width, height, cell int) ([]obstacle, error) {
	if cell <= 0 {
		return nil, fmt.Errorf("mask cell size must be positive, got %d", cell)
	}

	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}

	cw := max(width/cell, 1)
	ch := max(height/cell, 1)
	coarse := image.NewGray(image.Rect(0, 0, cw, ch))
	xdraw.NearestNeighbor.Scale(coarse, coarse.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	radius := float32(cell) * float32(math.Sqrt2) / 2
	var obstacles []obstacle
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			if coarse.GrayAt(x, y).Y >= 128 {
				continue
			}
			obstacles = append(obstacles, obstacle{
				pos:    fluid.V2((float32(x)+0.5)*float32(cell), (float32(y)+0.5)*float32(cell)),
				radius: radius,
			})
		}
	}
	return obstacles, nil
}
