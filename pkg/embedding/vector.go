package embedding

import "math"

// Cosine returns the cosine similarity of two vectors. Safe on
// non-normalized input; zero vectors score 0 against everything.
func Cosine(u, v []float32) float64 {
	n := len(u)
	if len(v) < n {
		n = len(v)
	}

	var dot, nu, nv float64
	for i := 0; i < n; i++ {
		dot += float64(u[i]) * float64(v[i])
		nu += float64(u[i]) * float64(u[i])
		nv += float64(v[i]) * float64(v[i])
	}
	if nu == 0 || nv == 0 {
		return 0
	}
	return dot / (math.Sqrt(nu) * math.Sqrt(nv))
}

// Normalize returns an L2-normalized copy of v. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// WeightedCentroid returns the L2-normalized weighted mean of the given
// vectors. Entries with non-positive weight are skipped; returns nil when
// nothing contributes.
func WeightedCentroid(vectors [][]float32, weights []float64) []float32 {
	if len(vectors) == 0 || len(vectors) != len(weights) {
		return nil
	}
	dim := len(vectors[0])
	acc := make([]float64, dim)
	var total float64
	for j, v := range vectors {
		w := weights[j]
		if w <= 0 {
			continue
		}
		total += w
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += w * float64(v[i])
		}
	}
	if total == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i, x := range acc {
		out[i] = float32(x / total)
	}
	return Normalize(out)
}

// Centroid returns the L2-normalized mean of the given vectors. Returns nil
// for empty input.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	acc := make([]float64, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	n := float64(len(vectors))
	for i, x := range acc {
		out[i] = float32(x / n)
	}
	return Normalize(out)
}
