package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constVec(v float32, dim int) []float32 {
	out := make([]float32, dim)
	for i := range out {
		out[i] = v
	}
	return out
}

// groups converts a label slice into a canonical partition keyed by the
// lowest member index, so tests can compare partitions regardless of label
// numbering.
func groups(labels []int) map[int][]int {
	byLabel := make(map[int][]int)
	for i, l := range labels {
		if l == Noise {
			continue
		}
		byLabel[l] = append(byLabel[l], i)
	}
	out := make(map[int][]int)
	for _, idxs := range byLabel {
		out[idxs[0]] = idxs
	}
	return out
}

func TestFitTwoClusters(t *testing.T) {
	// Ten faces near [1,1,...] and ten near [10,10,...], the synthetic
	// two-person video scenario.
	var vectors [][]float32
	for i := 0; i < 10; i++ {
		vectors = append(vectors, constVec(1, 128))
	}
	for i := 0; i < 10; i++ {
		vectors = append(vectors, constVec(10, 128))
	}

	labels := Fit(vectors, Params{Eps: 0.5, MinSamples: 2})
	require.Len(t, labels, 20)

	g := groups(labels)
	require.Len(t, g, 2)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, g[0])
	assert.ElementsMatch(t, []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, g[10])
}

func TestFitNoise(t *testing.T) {
	vectors := [][]float32{
		constVec(1, 8),
		constVec(1, 8),
		constVec(50, 8), // far from everything
	}

	labels := Fit(vectors, Params{Eps: 0.5, MinSamples: 2})
	assert.NotEqual(t, Noise, labels[0])
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, Noise, labels[2])
}

func TestFitMinSamplesCountsSelf(t *testing.T) {
	// A pair within eps forms a cluster at min_samples=2 but not at 3.
	vectors := [][]float32{constVec(1, 4), constVec(1, 4)}

	labels := Fit(vectors, Params{Eps: 0.5, MinSamples: 2})
	assert.Equal(t, labels[0], labels[1])
	assert.NotEqual(t, Noise, labels[0])

	labels = Fit(vectors, Params{Eps: 0.5, MinSamples: 3})
	assert.Equal(t, []int{Noise, Noise}, labels)
}

func TestFitDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var vectors [][]float32
	for i := 0; i < 60; i++ {
		base := float32(i % 3 * 5)
		v := make([]float32, 16)
		for d := range v {
			v[d] = base + rng.Float32()*0.1
		}
		vectors = append(vectors, v)
	}

	a := Fit(vectors, Params{Eps: 0.8, MinSamples: 2})
	b := Fit(vectors, Params{Eps: 0.8, MinSamples: 2})
	assert.Equal(t, a, b)
}

func TestFitOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var vectors [][]float32
	for i := 0; i < 40; i++ {
		base := float32(i%2) * 8
		v := make([]float32, 16)
		for d := range v {
			v[d] = base + rng.Float32()*0.2
		}
		vectors = append(vectors, v)
	}

	perm := rng.Perm(len(vectors))
	shuffled := make([][]float32, len(vectors))
	for i, j := range perm {
		shuffled[j] = vectors[i]
	}

	labelsA := Fit(vectors, Params{Eps: 1.0, MinSamples: 2})
	labelsB := Fit(shuffled, Params{Eps: 1.0, MinSamples: 2})

	// Map shuffled labels back to original positions.
	remapped := make([]int, len(vectors))
	for i, j := range perm {
		remapped[i] = labelsB[j]
	}

	// The partitions must be set-equal even if label numbering differs.
	canonical := func(labels []int) map[int][]int {
		return groups(labels)
	}
	ga := canonical(labelsA)
	gb := canonical(remapped)
	require.Equal(t, len(ga), len(gb))
	for key, members := range ga {
		assert.ElementsMatch(t, members, gb[key])
	}
}

func TestFitEmptyInput(t *testing.T) {
	assert.Empty(t, Fit(nil, Params{Eps: 0.5, MinSamples: 2}))
}

func TestEuclidean(t *testing.T) {
	assert.InDelta(t, 5.0, euclidean([]float32{0, 3}, []float32{4, 0}), 1e-9)
	assert.Zero(t, euclidean(constVec(2, 10), constVec(2, 10)))
}
