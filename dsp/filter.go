package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// Section is one biquad: b0 b1 b2 over 1 a1 a2.
type Section struct {
	B [3]float64
	A [3]float64
}

// SOS is a cascade of biquads.
type SOS []Section

type filterKind int

const (
	bandPass filterKind = iota
	bandStop
)

// ButterBandPass designs a digital Butterworth band-pass of the given
// prototype order (the cascade has order sections).
func ButterBandPass(order int, low, high, fs float64) (SOS, error) {
	return butter(bandPass, order, low, high, fs)
}

// ButterBandStop designs a digital Butterworth band-stop of the given
// prototype order.
func ButterBandStop(order int, low, high, fs float64) (SOS, error) {
	return butter(bandStop, order, low, high, fs)
}

func butter(kind filterKind, order int, low, high, fs float64) (SOS, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order must be positive, got %d", order)
	}
	nyq := fs / 2
	if !(fs > 0) || !(low > 0) || !(low < high) || !(high < nyq) {
		return nil, fmt.Errorf("band [%g, %g] Hz not inside (0, %g) Hz", low, high, nyq)
	}

	// pre-warped analog edges for the bilinear transform
	fs2 := 2 * fs
	w1 := fs2 * math.Tan(math.Pi*low/fs)
	w2 := fs2 * math.Tan(math.Pi*high/fs)
	bw := w2 - w1
	w0 := math.Sqrt(w1 * w2)

	var poles []complex128
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+order+1) / float64(2*order)
		p := cmplx.Exp(complex(0, theta))

		var a complex128
		if kind == bandPass {
			a = p * complex(bw/2, 0)
		} else {
			a = complex(bw/2, 0) / p
		}
		d := cmplx.Sqrt(a*a - complex(w0*w0, 0))
		poles = append(poles, a+d, a-d)
	}

	// keep one pole of each conjugate pair
	var upper []complex128
	for _, p := range poles {
		zp := (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
		if imag(zp) > 0 {
			upper = append(upper, zp)
		}
	}
	if len(upper) != order {
		return nil, errors.New("pole pairing failed")
	}

	var b [3]float64
	var ref float64 // digital frequency where the gain is normalised to 1
	if kind == bandPass {
		// zeros at z = 1 (from s = 0) and z = -1 (from infinity)
		b = [3]float64{1, 0, -1}
		ref = 2 * math.Atan(w0/fs2)
	} else {
		// zeros on the unit circle at the notch centre
		theta0 := 2 * math.Atan(w0/fs2)
		b = [3]float64{1, -2 * math.Cos(theta0), 1}
		ref = 0
	}

	sos := make(SOS, 0, order)
	for _, p := range upper {
		sos = append(sos, Section{
			B: b,
			A: [3]float64{1, -2 * real(p), real(p)*real(p) + imag(p)*imag(p)},
		})
	}

	g := cmplx.Abs(sos.Response(ref))
	if g == 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		return nil, errors.New("degenerate filter gain")
	}
	for i := range sos[0].B {
		sos[0].B[i] /= g
	}
	return sos, nil
}

// Response evaluates the cascade at digital angular frequency w (rad/sample).
func (s SOS) Response(w float64) complex128 {
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	h := complex(1, 0)
	for _, sec := range s {
		num := complex(sec.B[0], 0) + complex(sec.B[1], 0)*z1 + complex(sec.B[2], 0)*z2
		den := complex(sec.A[0], 0) + complex(sec.A[1], 0)*z1 + complex(sec.A[2], 0)*z2
		h *= num / den
	}
	return h
}

// run filters y in place (transposed direct form II) from state z1, z2.
func (sec Section) run(y []float64, z1, z2 float64) {
	b0, b1, b2 := sec.B[0], sec.B[1], sec.B[2]
	a1, a2 := sec.A[1], sec.A[2]
	for i, x := range y {
		out := b0*x + z1
		z1 = b1*x - a1*out + z2
		z2 = b2*x - a2*out
		y[i] = out
	}
}

// dcGain is the section gain at z = 1.
func (sec Section) dcGain() float64 {
	den := sec.A[0] + sec.A[1] + sec.A[2]
	if den == 0 {
		return 0
	}
	return (sec.B[0] + sec.B[1] + sec.B[2]) / den
}

// runSteady filters y in place starting from the steady state for a
// constant input equal to y[0].
func (s SOS) runSteady(y []float64) {
	if len(y) == 0 {
		return
	}
	level := y[0]
	for _, sec := range s {
		g := sec.dcGain()
		z1 := (g - sec.B[0]) * level
		z2 := (sec.B[2] - sec.A[2]*g) * level
		sec.run(y, z1, z2)
		level *= g
	}
}

// PadLen is the edge extension FiltFilt applies on each side.
func (s SOS) PadLen() int {
	return 3 * (2*len(s) + 1)
}

// FiltFilt applies the cascade forward and backward for zero phase, with odd
// extension of PadLen samples at both ends. x is not modified.
func (s SOS) FiltFilt(x []float64) ([]float64, error) {
	n := len(x)
	pad := s.PadLen()
	if n <= pad {
		return nil, fmt.Errorf("%w: %d samples, need more than %d", errTooShort, n, pad)
	}

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	s.runSteady(ext)
	reverse(ext)
	s.runSteady(ext)
	reverse(ext)

	return append([]float64(nil), ext[pad:pad+n]...), nil
}

var errTooShort = errors.New("signal too short")

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
