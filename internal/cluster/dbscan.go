// Package cluster groups face embeddings into identity clusters with a
// density-based partition (DBSCAN) and reconciles the resulting clusters
// with previously created person records.
package cluster

import "math"

// Noise is the label assigned to points in low-density regions.
const Noise = -1

// Params configures the density partition.
type Params struct {
	// Eps is the neighborhood radius in embedding distance units.
	Eps float64
	// MinSamples is the neighborhood size (including the point itself)
	// required to form a cluster.
	MinSamples int
}

// Fit partitions the vectors by Euclidean density and returns one label per
// vector, Noise (-1) for unclustered points.
//
// The partition is deterministic and independent of input order: clusters
// are the connected components of core points, and each border point
// attaches to its nearest core neighbor. Label numbering follows the lowest
// member index and may differ between runs over reordered input; the groups
// themselves do not.
func Fit(vectors [][]float32, p Params) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n == 0 {
		return labels
	}

	// O(n^2) neighborhood queries over the accumulated set.
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if euclidean(vectors[i], vectors[j]) <= p.Eps {
				neighbors[i] = append(neighbors[i], j)
				neighbors[j] = append(neighbors[j], i)
			}
		}
	}

	core := make([]bool, n)
	for i := range vectors {
		// The point itself counts toward the neighborhood size.
		if len(neighbors[i])+1 >= p.MinSamples {
			core[i] = true
		}
	}

	// Union core points that are within eps of each other.
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		if !core[i] {
			continue
		}
		for _, j := range neighbors[i] {
			if core[j] {
				uf.union(i, j)
			}
		}
	}

	// Number components by their lowest member index.
	componentLabel := make(map[int]int)
	next := 0
	for i := 0; i < n; i++ {
		if !core[i] {
			continue
		}
		root := uf.find(i)
		if _, ok := componentLabel[root]; !ok {
			componentLabel[root] = next
			next++
		}
		labels[i] = componentLabel[root]
	}

	// Border points attach to the nearest core neighbor. Ties are broken
	// by comparing the core vectors themselves so that input order cannot
	// change the outcome.
	for i := 0; i < n; i++ {
		if core[i] {
			continue
		}
		best := -1
		bestDist := math.Inf(1)
		for _, j := range neighbors[i] {
			if !core[j] {
				continue
			}
			d := euclidean(vectors[i], vectors[j])
			if d < bestDist || (d == bestDist && best >= 0 && lessVec(vectors[j], vectors[best])) {
				bestDist = d
				best = j
			}
		}
		if best >= 0 {
			labels[i] = labels[best]
		}
	}

	return labels
}

// euclidean returns the L2 distance between two vectors.
func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func lessVec(a, b []float32) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
