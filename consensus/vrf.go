package consensus

import (
	"fmt"

	"github.com/annealchain/annealchain/crypto"
)

// vrfDomain separates VRF derivations from other uses of the hash.
const vrfDomain = "annealchain/vrf/v1"

// VRFOutput derives the epoch randomness from prior chain state. Anyone can
// recompute it from the previous block hash, which makes the scheduling
// seed verifiable while staying unpredictable before that block exists.
func VRFOutput(prevBlockHash string) string {
	return crypto.HashStrings(vrfDomain, prevBlockHash)
}

// SlotSeed derives the per-slot selection seed from the epoch, the slot
// index and the epoch's VRF output.
func SlotSeed(epoch, slot uint64, vrfOutput string) string {
	return crypto.HashStrings(fmt.Sprintf("%s/%d/%d/", vrfDomain, epoch, slot), vrfOutput)
}
