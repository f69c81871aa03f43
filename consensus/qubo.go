package consensus

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Candidate is one shortlisted node entering a selection round.
type Candidate struct {
	PubKey  string
	Score   float64
	Cluster int
}

// ShortlistSize is the default candidate cap per selection round.
const ShortlistSize = 50

// Annealer holds the simulated-annealing parameters. Temperatures follow an
// exponential schedule from T0 down to T1 over Sweeps Metropolis steps per
// read; the number of independent restarts scales with candidate count.
type Annealer struct {
	T0     float64
	T1     float64
	Sweeps int
	// DiversityPenalty adds a pairwise cost between candidates sharing a
	// cluster, pushing selection spread across clusters. Zero disables it.
	DiversityPenalty float64
}

// DefaultAnnealer returns the documented schedule.
func DefaultAnnealer() Annealer {
	return Annealer{T0: 10.0, T1: 0.1, Sweeps: 1000}
}

// numReads scales restart count with the shortlist size.
func numReads(candidates int) int {
	switch {
	case candidates <= 50:
		return 50
	case candidates <= 200:
		return 75
	case candidates <= 500:
		return 100
	case candidates <= 1000:
		return 125
	default:
		return 150
	}
}

// BuildQUBO lowers the selection objective
//
//	minimize −Σ s_i·x_i + λ·(Σ x_i − 1)²
//
// into an upper-triangular coefficient matrix: Q[i][i] = −s_i − λ and
// Q[i][j] = 2λ for i < j, plus the optional cluster-diversity pairwise
// term. λ must dominate every score so the one-hot constraint binds.
func BuildQUBO(cands []Candidate, lambda, diversityPenalty float64) [][]float64 {
	n := len(cands)
	q := make([][]float64, n)
	for i := range q {
		q[i] = make([]float64, n)
		q[i][i] = -cands[i].Score - lambda
		for j := i + 1; j < n; j++ {
			q[i][j] = 2 * lambda
		}
	}
	if diversityPenalty > 0 {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if cands[i].Cluster == cands[j].Cluster {
					q[i][j] += diversityPenalty
				}
			}
		}
	}
	return q
}

// energy evaluates xᵀQx for a binary assignment.
func energy(q [][]float64, x []bool) float64 {
	var e float64
	for i := range x {
		if !x[i] {
			continue
		}
		e += q[i][i]
		for j := i + 1; j < len(x); j++ {
			if x[j] {
				e += q[i][j]
			}
		}
	}
	return e
}

// flipDelta returns the energy change of flipping bit i.
func flipDelta(q [][]float64, x []bool, i int) float64 {
	delta := q[i][i]
	for j := range x {
		if j == i || !x[j] {
			continue
		}
		if i < j {
			delta += q[i][j]
		} else {
			delta += q[j][i]
		}
	}
	if x[i] {
		return -delta
	}
	return delta
}

// Solve runs simulated annealing over independent restarts and returns the
// lowest-energy one-hot sample. Deterministic for a given (q, seed).
func (a Annealer) Solve(q [][]float64, seed int64) ([]bool, float64, error) {
	n := len(q)
	if n == 0 {
		return nil, 0, errors.New("empty QUBO")
	}
	rng := rand.New(rand.NewSource(seed))
	reads := numReads(n)

	var best []bool
	bestEnergy := math.Inf(1)
	for read := 0; read < reads; read++ {
		x := make([]bool, n)
		x[rng.Intn(n)] = true // start from a random one-hot state

		for step := 0; step < a.Sweeps; step++ {
			t := a.T0 * math.Pow(a.T1/a.T0, float64(step)/float64(a.Sweeps))
			i := rng.Intn(n)
			delta := flipDelta(q, x, i)
			if delta < 0 || rng.Float64() < math.Exp(-delta/t) {
				x[i] = !x[i]
			}
		}

		if ones(x) != 1 {
			continue
		}
		if e := energy(q, x); e < bestEnergy {
			bestEnergy = e
			best = append([]bool(nil), x...)
		}
	}
	if best == nil {
		return nil, 0, errors.New("no one-hot sample found")
	}
	return best, bestEnergy, nil
}

func ones(x []bool) int {
	c := 0
	for _, b := range x {
		if b {
			c++
		}
	}
	return c
}

// Shortlist orders candidates by score descending (pubkey as tie-break for
// determinism) and caps the list at limit. Very large networks widen the
// cap to O(√N) so the shortlist keeps sampling beyond a fixed elite.
func Shortlist(scores map[string]float64, clusters map[string]int, limit int) []Candidate {
	cands := make([]Candidate, 0, len(scores))
	for pub, score := range scores {
		cands = append(cands, Candidate{PubKey: pub, Score: score, Cluster: clusters[pub]})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].PubKey < cands[j].PubKey
	})
	if limit > 0 && len(cands) > limit*limit {
		limit = int(math.Ceil(math.Sqrt(float64(len(cands)))))
	}
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}

// SelectLeader runs one annealing round over the shortlist with a seed
// derived from seedHex and returns the chosen pubkey. Among samples of equal
// energy the first one found is kept; pubkeys are not compared. A round
// producing no valid sample falls back to cands[0] (the top-scored candidate
// when the list comes from Shortlist) so the schedule never stalls.
func (a Annealer) SelectLeader(cands []Candidate, seedHex string) (string, error) {
	if len(cands) == 0 {
		return "", errors.New("no candidates")
	}
	if len(cands) == 1 {
		return cands[0].PubKey, nil
	}

	maxScore := cands[0].Score
	for _, c := range cands[1:] {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	lambda := 2*math.Abs(maxScore) + 1
	q := BuildQUBO(cands, lambda, a.DiversityPenalty)

	x, _, err := a.Solve(q, seedToInt(seedHex))
	if err != nil {
		// Degenerate round: fall back to the best-scored candidate.
		return cands[0].PubKey, nil
	}
	for i, set := range x {
		if set {
			return cands[i].PubKey, nil
		}
	}
	return cands[0].PubKey, nil
}

// seedToInt folds a hex seed into the RNG seed.
func seedToInt(seedHex string) int64 {
	b, err := hex.DecodeString(seedHex)
	if err != nil || len(b) < 8 {
		sum := int64(0)
		for _, c := range []byte(seedHex) {
			sum = sum*131 + int64(c)
		}
		return sum
	}
	return int64(binary.BigEndian.Uint64(b[:8]))
}
