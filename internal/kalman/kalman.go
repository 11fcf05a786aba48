// Package kalman provides a one-dimensional constant-velocity Kalman filter
// for tracking a slowly drifting value from noisy, irregularly spaced reads.
package kalman

import (
	"errors"
	"fmt"
)

// InitialPositionVariance is the prior variance assigned to the position
// estimate on Reset. It is large enough that the first update adopts the
// measurement almost entirely.
const InitialPositionVariance = 1e6

// ErrNonPositiveDt is returned by Update when the elapsed time is zero or
// negative. The filter state is left untouched.
var ErrNonPositiveDt = errors.New("kalman: dt must be > 0")

// Filter tracks position and velocity with a 2x2 error covariance.
// It is not safe for concurrent use.
type Filter struct {
	processNoise float64 // acceleration variance

	pos, vel float64

	// symmetric covariance: [pAA pAV; pAV pVV]
	pAA, pAV, pVV float64
}

// New returns a filter with the given process-noise (acceleration) variance,
// reset to position 0 and velocity 0.
func New(processNoise float64) *Filter {
	f := &Filter{processNoise: processNoise}
	f.Reset(0, 0)
	return f
}

// Reset reinitializes the estimates and restores the large-uncertainty prior.
func (f *Filter) Reset(position, velocity float64) {
	f.pos = position
	f.vel = velocity
	f.pAA = InitialPositionVariance
	f.pAV = 0
	f.pVV = f.processNoise
}

// Update runs one predict/correct cycle for measurement z with variance
// measVar, dt seconds after the previous update.
func (f *Filter) Update(z, measVar, dt float64) error {
	if dt <= 0 {
		return fmt.Errorf("%w: got %v", ErrNonPositiveDt, dt)
	}

	// Predict.
	f.pos += f.vel * dt

	dt2 := dt * dt
	dt3 := dt * dt2
	dt4 := dt2 * dt2
	f.pAA += 2*dt*f.pAV + dt2*f.pVV + f.processNoise*dt4/4
	f.pAV += dt*f.pVV + f.processNoise*dt3/2
	f.pVV += f.processNoise * dt2

	// Correct.
	innovation := z - f.pos
	sInv := 1 / (f.pAA + measVar)
	kPos := f.pAA * sInv
	kVel := f.pAV * sInv

	f.pos += kPos * innovation
	f.vel += kVel * innovation

	// Order matters: pVV and pAV use the pre-correction pAV.
	f.pVV -= f.pAV * kVel
	f.pAV -= f.pAV * kPos
	f.pAA -= f.pAA * kPos
	return nil
}

// Position returns the filtered position estimate.
func (f *Filter) Position() float64 {
	return f.pos
}
