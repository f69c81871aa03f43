package consensus

import (
	"fmt"
	"testing"
)

// TestBuildQUBOCoefficients pins the lowering of the selection objective.
func TestBuildQUBOCoefficients(t *testing.T) {
	cands := []Candidate{{PubKey: "a", Score: 0.9}, {PubKey: "b", Score: 0.4}}
	q := BuildQUBO(cands, 2.0, 0)
	if q[0][0] != -0.9-2.0 {
		t.Errorf("Q[0][0]: got %v want %v", q[0][0], -0.9-2.0)
	}
	if q[1][1] != -0.4-2.0 {
		t.Errorf("Q[1][1]: got %v want %v", q[1][1], -0.4-2.0)
	}
	if q[0][1] != 4.0 {
		t.Errorf("Q[0][1]: got %v want 4.0", q[0][1])
	}
}

// TestEnergyOneHot: with a dominant penalty, one-hot states beat zero and
// two-hot states.
func TestEnergyOneHot(t *testing.T) {
	cands := []Candidate{{PubKey: "a", Score: 0.9}, {PubKey: "b", Score: 0.4}}
	q := BuildQUBO(cands, 3.0, 0)

	zero := energy(q, []bool{false, false})
	oneA := energy(q, []bool{true, false})
	oneB := energy(q, []bool{false, true})
	both := energy(q, []bool{true, true})

	if oneA >= zero || oneB >= zero {
		t.Error("one-hot states should beat the empty state")
	}
	if both <= oneA || both <= oneB {
		t.Error("two-hot state should pay the penalty")
	}
	if oneA >= oneB {
		t.Error("the higher score should give lower energy")
	}
}

// TestSolveDeterministic: same QUBO and seed, same sample.
func TestSolveDeterministic(t *testing.T) {
	cands := []Candidate{
		{PubKey: "a", Score: 0.9},
		{PubKey: "b", Score: 0.7},
		{PubKey: "c", Score: 0.2},
	}
	q := BuildQUBO(cands, 2.8, 0)
	an := DefaultAnnealer()

	x1, e1, err := an.Solve(q, 12345)
	if err != nil {
		t.Fatal(err)
	}
	x2, e2, err := an.Solve(q, 12345)
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Errorf("energies differ: %v vs %v", e1, e2)
	}
	for i := range x1 {
		if x1[i] != x2[i] {
			t.Fatal("samples differ for identical seed")
		}
	}
	if ones(x1) != 1 {
		t.Error("solution is not one-hot")
	}
}

// TestSelectLeaderDeterministic: identical shortlist and seed reproduce the
// selection.
func TestSelectLeaderDeterministic(t *testing.T) {
	cands := []Candidate{
		{PubKey: "a", Score: 0.9},
		{PubKey: "b", Score: 0.7},
		{PubKey: "c", Score: 0.5},
	}
	an := DefaultAnnealer()
	first, err := an.SelectLeader(cands, "deadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	second, err := an.SelectLeader(cands, "deadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("selection not reproducible: %s vs %s", first, second)
	}
}

// TestSelectLeaderFavorsScore: over many seeds the strong candidate wins
// the large majority of rounds.
func TestSelectLeaderFavorsScore(t *testing.T) {
	cands := []Candidate{
		{PubKey: "strong", Score: 0.95},
		{PubKey: "weak", Score: 0.05},
	}
	an := DefaultAnnealer()
	wins := 0
	for i := 0; i < 50; i++ {
		leader, err := an.SelectLeader(cands, fmt.Sprintf("%016x", i*7919))
		if err != nil {
			t.Fatal(err)
		}
		if leader == "strong" {
			wins++
		}
	}
	if wins < 40 {
		t.Errorf("strong candidate won only %d/50 rounds", wins)
	}
}

// TestSelectLeaderSingleCandidate short-circuits.
func TestSelectLeaderSingleCandidate(t *testing.T) {
	an := DefaultAnnealer()
	leader, err := an.SelectLeader([]Candidate{{PubKey: "solo", Score: 0.1}}, "00")
	if err != nil || leader != "solo" {
		t.Errorf("single candidate: got (%s, %v)", leader, err)
	}
}

// TestShortlistOrderAndCap: descending score, pubkey tie-break, capped.
func TestShortlistOrderAndCap(t *testing.T) {
	scores := map[string]float64{"a": 0.5, "b": 0.9, "c": 0.5, "d": 0.1}
	list := Shortlist(scores, nil, 3)
	if len(list) != 3 {
		t.Fatalf("cap ignored: %d", len(list))
	}
	if list[0].PubKey != "b" || list[1].PubKey != "a" || list[2].PubKey != "c" {
		t.Errorf("order wrong: %v", list)
	}
}
