package cpu

import (
	"github.com/gogpu/fluid"
)

// kernelFunc runs one kernel over the rows [y0, y1) of an nx-wide
// dispatch domain. Bands of the same dispatch never overlap rows, so
// kernels need no synchronization between bands.
type kernelFunc func(e *env, nx, y0, y1 int)

var kernelFuncs = map[fluid.Stage]kernelFunc{
	fluid.StageAddVelocity:         addVelocity,
	fluid.StageInitBoundaries:      initBoundaries,
	fluid.StageAdvectVelocity:      advectVelocity,
	fluid.StageCalcVorticity:       calcVorticity,
	fluid.StageApplyVorticity:      applyVorticity,
	fluid.StageViscosity:           viscosity,
	fluid.StageDivergence:          divergence,
	fluid.StagePoisson:             poisson,
	fluid.StageSubtractGradient:    subtractGradient,
	fluid.StageAddCircleObstacle:   addCircleObstacle,
	fluid.StageAddTriangleObstacle: addTriangleObstacle,
	fluid.StageClearBuffer:         clearBuffer,
}

// env is the resolved state one dispatch runs against: grid dimensions
// from the size uniform, the parameter block, and the bound slots.
type env struct {
	w, h   int
	params *[uniformCount]fluid.Vec4
	slots  *[fluid.SlotCount]*storageBuffer
}

// buf returns the float32 backing of a bound slot.
func (e *env) buf(s fluid.Slot) []float32 {
	return e.slots[s].data
}

// scalar reads the x component of a parameter.
func (e *env) scalar(p int) float32 { return e.params[p][0] }

// vec2 reads the x and y components of a parameter.
func (e *env) vec2(p int) (float32, float32) {
	v := e.params[p]
	return v[0], v[1]
}

// clampIdx is the kernels' idx_at helper: neighbor reads clamp to the
// domain edge.
func (e *env) clampIdx(x, y int) int {
	cx := min(max(x, 0), e.w-1)
	cy := min(max(y, 0), e.h-1)
	return cy*e.w + cx
}

// velocityAt reads a neighbor with no-slip walls: obstacle cells
// contribute zero velocity.
func (e *env) velocityAt(v, obs []float32, x, y int) (float32, float32) {
	i := e.clampIdx(x, y)
	if obs[i*2] > 0 {
		return 0, 0
	}
	return v[i*2], v[i*2+1]
}

// pressureAt reads a neighbor with the Neumann boundary: obstacle
// cells take the center pressure.
func (e *env) pressureAt(p, obs []float32, x, y int, center float32) float32 {
	i := e.clampIdx(x, y)
	if obs[i*2] > 0 {
		return center
	}
	return p[i]
}

// sampleVelocity bilinearly samples a vector2 field at a fractional
// grid position, clamped to the domain.
func (e *env) sampleVelocity(v []float32, px, py float32) (float32, float32) {
	px = min(max(px, 0), float32(e.w-1))
	py = min(max(py, 0), float32(e.h-1))
	ix0 := int(px)
	iy0 := int(py)
	ix1 := min(ix0+1, e.w-1)
	iy1 := min(iy0+1, e.h-1)
	fx := px - float32(ix0)
	fy := py - float32(iy0)

	i00 := (iy0*e.w + ix0) * 2
	i10 := (iy0*e.w + ix1) * 2
	i01 := (iy1*e.w + ix0) * 2
	i11 := (iy1*e.w + ix1) * 2

	sx := lerp(lerp(v[i00], v[i10], fx), lerp(v[i01], v[i11], fx), fy)
	sy := lerp(lerp(v[i00+1], v[i10+1], fx), lerp(v[i01+1], v[i11+1], fx), fy)
	return sx, sy
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// edge is the signed-area edge function of the triangle inside test.
func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// addVelocity splats a velocity impulse around a point with linear
// falloff.
func addVelocity(e *env, nx, y0, y1 int) {
	vin := e.buf(fluid.SlotVelocityIn)
	vout := e.buf(fluid.SlotVelocityOut)
	px, py := e.vec2(pPosition)
	dvx, dvy := e.vec2(pVelocity)
	r := max(e.scalar(pRadius), 1e-6)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			i := (y*e.w + x) * 2
			dist := fluid.V2(float32(x)-px, float32(y)-py).Length()
			falloff := max(0, 1-dist/r)
			vout[i] = vin[i] + dvx*falloff
			vout[i+1] = vin[i+1] + dvy*falloff
		}
	}
}

// initBoundaries marks the domain border as static obstacle cells.
func initBoundaries(e *env, nx, y0, y1 int) {
	obs := e.buf(fluid.SlotObstacles)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			if x == 0 || y == 0 || x == e.w-1 || y == e.h-1 {
				i := (y*e.w + x) * 2
				obs[i] = 1
				obs[i+1] = 1
			}
		}
	}
}

// advectVelocity traces the velocity at each cell backwards through the
// field and samples where the flow came from.
func advectVelocity(e *env, nx, y0, y1 int) {
	vin := e.buf(fluid.SlotVelocityIn)
	vout := e.buf(fluid.SlotVelocityOut)
	obs := e.buf(fluid.SlotObstacles)
	dt := e.scalar(pElapsedTime) * e.scalar(pSpeed)
	diss := e.scalar(pDissipation)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			idx := y*e.w + x
			if obs[idx*2] > 0 {
				vout[idx*2], vout[idx*2+1] = 0, 0
				continue
			}
			fromX := float32(x) - vin[idx*2]*dt
			fromY := float32(y) - vin[idx*2+1]*dt
			sx, sy := e.sampleVelocity(vin, fromX, fromY)
			vout[idx*2] = sx * diss
			vout[idx*2+1] = sy * diss
		}
	}
}

// calcVorticity takes the curl of the velocity field by central
// differences.
func calcVorticity(e *env, nx, y0, y1 int) {
	vin := e.buf(fluid.SlotVelocityIn)
	vort := e.buf(fluid.SlotVorticity)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			l := e.clampIdx(x-1, y) * 2
			r := e.clampIdx(x+1, y) * 2
			b := e.clampIdx(x, y-1) * 2
			t := e.clampIdx(x, y+1) * 2
			vort[y*e.w+x] = 0.5 * ((vin[r+1] - vin[l+1]) - (vin[t] - vin[b]))
		}
	}
}

// applyVorticity pushes velocity along the rotated normalized gradient
// of curl magnitude.
func applyVorticity(e *env, nx, y0, y1 int) {
	vin := e.buf(fluid.SlotVelocityIn)
	vout := e.buf(fluid.SlotVelocityOut)
	vort := e.buf(fluid.SlotVorticity)
	scale := e.scalar(pVorticityScale)
	dt := e.scalar(pElapsedTime)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			idx := y*e.w + x
			omega := vort[idx]
			gradX := 0.5 * (abs32(vort[e.clampIdx(x+1, y)]) - abs32(vort[e.clampIdx(x-1, y)]))
			gradY := 0.5 * (abs32(vort[e.clampIdx(x, y+1)]) - abs32(vort[e.clampIdx(x, y-1)]))
			n := max(fluid.V2(gradX, gradY).Length(), 1e-5)
			forceX := scale * (gradY / n) * omega
			forceY := scale * (-gradX / n) * omega
			vout[idx*2] = vin[idx*2] + forceX*dt
			vout[idx*2+1] = vin[idx*2+1] + forceY*dt
		}
	}
}

// viscosity runs one Jacobi iteration of viscous diffusion.
func viscosity(e *env, nx, y0, y1 int) {
	vin := e.buf(fluid.SlotVelocityIn)
	vout := e.buf(fluid.SlotVelocityOut)
	obs := e.buf(fluid.SlotObstacles)
	alpha := e.scalar(pAlpha)
	rBeta := e.scalar(pRBeta)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			idx := y*e.w + x
			if obs[idx*2] > 0 {
				vout[idx*2], vout[idx*2+1] = 0, 0
				continue
			}
			lx, ly := e.velocityAt(vin, obs, x-1, y)
			rx, ry := e.velocityAt(vin, obs, x+1, y)
			bx, by := e.velocityAt(vin, obs, x, y-1)
			tx, ty := e.velocityAt(vin, obs, x, y+1)
			vout[idx*2] = (lx + rx + bx + tx + alpha*vin[idx*2]) * rBeta
			vout[idx*2+1] = (ly + ry + by + ty + alpha*vin[idx*2+1]) * rBeta
		}
	}
}

// divergence computes the right-hand side of the pressure Poisson
// equation.
func divergence(e *env, nx, y0, y1 int) {
	vin := e.buf(fluid.SlotVelocityIn)
	div := e.buf(fluid.SlotDivergence)
	obs := e.buf(fluid.SlotObstacles)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			lx, _ := e.velocityAt(vin, obs, x-1, y)
			rx, _ := e.velocityAt(vin, obs, x+1, y)
			_, by := e.velocityAt(vin, obs, x, y-1)
			_, ty := e.velocityAt(vin, obs, x, y+1)
			div[y*e.w+x] = 0.5 * ((rx - lx) + (ty - by))
		}
	}
}

// poisson runs one Jacobi iteration of the pressure solve.
func poisson(e *env, nx, y0, y1 int) {
	pin := e.buf(fluid.SlotPressureIn)
	pout := e.buf(fluid.SlotPressureOut)
	div := e.buf(fluid.SlotDivergence)
	obs := e.buf(fluid.SlotObstacles)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			idx := y*e.w + x
			center := pin[idx]
			sum := e.pressureAt(pin, obs, x-1, y, center) +
				e.pressureAt(pin, obs, x+1, y, center) +
				e.pressureAt(pin, obs, x, y-1, center) +
				e.pressureAt(pin, obs, x, y+1, center)
			pout[idx] = (sum - div[idx]) * 0.25
		}
	}
}

// subtractGradient projects the velocity field onto its
// divergence-free part.
func subtractGradient(e *env, nx, y0, y1 int) {
	vin := e.buf(fluid.SlotVelocityIn)
	vout := e.buf(fluid.SlotVelocityOut)
	pin := e.buf(fluid.SlotPressureIn)
	obs := e.buf(fluid.SlotObstacles)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			idx := y*e.w + x
			if obs[idx*2] > 0 {
				vout[idx*2], vout[idx*2+1] = 0, 0
				continue
			}
			center := pin[idx]
			gradX := 0.5 * (e.pressureAt(pin, obs, x+1, y, center) - e.pressureAt(pin, obs, x-1, y, center))
			gradY := 0.5 * (e.pressureAt(pin, obs, x, y+1, center) - e.pressureAt(pin, obs, x, y-1, center))
			vout[idx*2] = vin[idx*2] - gradX
			vout[idx*2+1] = vin[idx*2+1] - gradY
		}
	}
}

// addCircleObstacle rasterizes a circular obstacle. The y component
// records whether it is static.
func addCircleObstacle(e *env, nx, y0, y1 int) {
	obs := e.buf(fluid.SlotObstacles)
	px, py := e.vec2(pPosition)
	r := e.scalar(pRadius)
	static := e.scalar(pStatic)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			if fluid.V2(float32(x)-px, float32(y)-py).Length() <= r {
				i := (y*e.w + x) * 2
				obs[i] = 1
				obs[i+1] = static
			}
		}
	}
}

// addTriangleObstacle rasterizes a triangular obstacle with an edge
// function test that accepts either winding order.
func addTriangleObstacle(e *env, nx, y0, y1 int) {
	obs := e.buf(fluid.SlotObstacles)
	p1x, p1y := e.vec2(pP1)
	p2x, p2y := e.vec2(pP2)
	p3x, p3y := e.vec2(pP3)
	static := e.scalar(pStatic)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			px := float32(x)
			py := float32(y)
			d1 := edge(p1x, p1y, p2x, p2y, px, py)
			d2 := edge(p2x, p2y, p3x, p3y, px, py)
			d3 := edge(p3x, p3y, p1x, p1y, px, py)
			hasNeg := d1 < 0 || d2 < 0 || d3 < 0
			hasPos := d1 > 0 || d2 > 0 || d3 > 0
			if !(hasNeg && hasPos) {
				i := (y*e.w + x) * 2
				obs[i] = 1
				obs[i+1] = static
			}
		}
	}
}

// clearBuffer zeroes the field bound to the scratch slot. Each cell
// clears two consecutive elements under a length guard, covering both
// scalar and vector2 fields.
func clearBuffer(e *env, nx, y0, y1 int) {
	scratch := e.buf(fluid.SlotGeneric)
	n := len(scratch)
	for y := y0; y < y1; y++ {
		for x := 0; x < nx; x++ {
			base := (y*e.w + x) * 2
			if base < n {
				scratch[base] = 0
			}
			if base+1 < n {
				scratch[base+1] = 0
			}
		}
	}
}
