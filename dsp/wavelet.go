package dsp

import (
	"errors"
	"fmt"
)

// db4 reconstruction low-pass (scaling) filter, unit norm.
var db4 = []float64{
	0.23037781330885523,
	0.7148465705525415,
	0.6308807679295904,
	-0.02798376941698385,
	-0.18703481171888114,
	0.030841381835986965,
	0.032883011666982945,
	-0.010597401784997278,
}

const (
	artifactLevels = 3
	artifactZeroed = 2 // coarsest detail groups removed
)

// Coefficients is a periodised multi-level wavelet decomposition.
// Details are ordered coarsest first; Lengths[i] is the length of the signal
// that produced Details[i], before any odd-length padding.
type Coefficients struct {
	Approx  []float64
	Details [][]float64
	Lengths []int
}

var errMalformed = errors.New("malformed wavelet coefficients")

// Wavedec decomposes x into level db4 levels. Odd-length intermediate
// signals are padded by repeating their last sample.
func Wavedec(x []float64, level int) (Coefficients, error) {
	if level < 1 {
		return Coefficients{}, fmt.Errorf("decomposition level must be positive, got %d", level)
	}
	if !finite(x) {
		return Coefficients{}, errors.New("non-finite samples")
	}

	c := Coefficients{
		Details: make([][]float64, level),
		Lengths: make([]int, level),
	}
	cur := x
	for l := level - 1; l >= 0; l-- {
		n := len(cur)
		if n < 2 {
			return Coefficients{}, fmt.Errorf("%w: %d samples cannot be decomposed %d levels", errTooShort, len(x), level)
		}
		c.Lengths[l] = n
		if n%2 == 1 {
			cur = append(append(make([]float64, 0, n+1), cur...), cur[n-1])
		}
		a, d := dwt(cur)
		c.Details[l] = d
		cur = a
	}
	c.Approx = cur
	return c, nil
}

// Waverec inverts Wavedec.
func Waverec(c Coefficients) ([]float64, error) {
	if len(c.Details) == 0 || len(c.Details) != len(c.Lengths) {
		return nil, fmt.Errorf("%w: %d detail groups, %d lengths", errMalformed, len(c.Details), len(c.Lengths))
	}
	cur := c.Approx
	for i, d := range c.Details {
		if len(d) != len(cur) || len(d) == 0 {
			return nil, fmt.Errorf("%w: level %d has %d details for %d approximations", errMalformed, i, len(d), len(cur))
		}
		y := idwt(cur, d)
		n := c.Lengths[i]
		if n != len(y) && n != len(y)-1 {
			return nil, fmt.Errorf("%w: level %d length %d does not match %d", errMalformed, i, n, len(y))
		}
		cur = y[:n]
	}
	return cur, nil
}

// SuppressArtifacts removes slow, eye-movement-scale content by zeroing the
// two coarsest detail groups of a 3-level db4 decomposition.
func SuppressArtifacts(x []float64) ([]float64, error) {
	c, err := Wavedec(x, artifactLevels)
	if err != nil {
		return nil, err
	}
	for i := 0; i < artifactZeroed; i++ {
		c.Details[i] = make([]float64, len(c.Details[i]))
	}
	y, err := Waverec(c)
	if err != nil {
		return nil, err
	}
	if len(y) != len(x) {
		return nil, fmt.Errorf("%w: reconstructed %d samples from %d", errMalformed, len(y), len(x))
	}
	return y, nil
}

// dwt is one periodised analysis step; len(x) must be even.
func dwt(x []float64) (approx, detail []float64) {
	n := len(x)
	half := n / 2
	approx = make([]float64, half)
	detail = make([]float64, half)
	last := len(db4) - 1
	for k := 0; k < half; k++ {
		var a, d float64
		for i, h := range db4 {
			v := x[(2*k+i)%n]
			a += h * v
			d += highPass(i, last) * v
		}
		approx[k] = a
		detail[k] = d
	}
	return approx, detail
}

// idwt is the synthesis step matching dwt.
func idwt(approx, detail []float64) []float64 {
	n := 2 * len(approx)
	y := make([]float64, n)
	last := len(db4) - 1
	for k := range approx {
		for i, h := range db4 {
			y[(2*k+i)%n] += h*approx[k] + highPass(i, last)*detail[k]
		}
	}
	return y
}

// highPass is the quadrature mirror of db4: g[i] = (-1)^i h[L-1-i].
func highPass(i, last int) float64 {
	if i%2 == 0 {
		return db4[last-i]
	}
	return -db4[last-i]
}
