// Package turbine propagates blocks as fixed-size shreds over a
// score-weighted fanout tree, so the leader never sends a whole block to
// every peer. Reed-Solomon parity shreds let receivers reconstruct a block
// from any sufficient subset.
package turbine

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
)

// ShredKind tags a shred as payload or parity.
type ShredKind string

const (
	// DataShred carries block bytes.
	DataShred ShredKind = "DATA"
	// ParityShred carries erasure-code output.
	ParityShred ShredKind = "PARITY"
)

const (
	// DefaultShredSize is the payload length of one shred.
	DefaultShredSize = 1024
	// parityDivisor sets parity count: ceil(data/4) parity shreds.
	parityDivisor = 4
)

// Shred is one slice of a block's canonical bytes.
type Shred struct {
	BlockID    string    `json:"block_id"`
	Index      int       `json:"shred_index"`
	Total      int       `json:"total_shreds"`
	DataShreds int       `json:"data_shreds"`
	Kind       ShredKind `json:"kind"`
	Payload    []byte    `json:"payload"`
	Size       int       `json:"size"` // unpadded payload bytes (block tail may be short)
}

// Shredder encodes blocks to shreds and back.
type Shredder struct {
	shredSize int
}

// NewShredder creates a Shredder with the given payload size.
func NewShredder(shredSize int) *Shredder {
	if shredSize <= 0 {
		shredSize = DefaultShredSize
	}
	return &Shredder{shredSize: shredSize}
}

// Encode splits a block's canonical bytes into DATA shreds plus
// Reed-Solomon PARITY shreds. Any dataShreds-sized subset of the total
// reconstructs the block.
func (s *Shredder) Encode(block *core.Block) ([]Shred, error) {
	data, err := core.Encode(block)
	if err != nil {
		return nil, err
	}
	blockID := block.Hash
	if blockID == "" {
		blockID = crypto.Hash(data)
	}

	numData := (len(data) + s.shredSize - 1) / s.shredSize
	if numData == 0 {
		numData = 1
	}
	numParity := (numData + parityDivisor - 1) / parityDivisor

	shards := make([][]byte, numData+numParity)
	sizes := make([]int, numData)
	for i := 0; i < numData; i++ {
		shards[i] = make([]byte, s.shredSize)
		lo := i * s.shredSize
		hi := lo + s.shredSize
		if hi > len(data) {
			hi = len(data)
		}
		if lo < len(data) {
			sizes[i] = hi - lo
			copy(shards[i], data[lo:hi])
		}
	}
	for i := numData; i < len(shards); i++ {
		shards[i] = make([]byte, s.shredSize)
	}

	enc, err := reedsolomon.New(numData, numParity)
	if err != nil {
		return nil, fmt.Errorf("reedsolomon: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}

	total := numData + numParity
	shreds := make([]Shred, 0, total)
	for i, shard := range shards {
		kind := DataShred
		size := s.shredSize
		if i < numData {
			size = sizes[i]
		} else {
			kind = ParityShred
		}
		shreds = append(shreds, Shred{
			BlockID:    blockID,
			Index:      i,
			Total:      total,
			DataShreds: numData,
			Kind:       kind,
			Payload:    shard,
			Size:       size,
		})
	}
	return shreds, nil
}

// Reconstruct rebuilds the block bytes from any sufficient subset of a
// block's shreds.
func (s *Shredder) Reconstruct(shreds []Shred) ([]byte, error) {
	if len(shreds) == 0 {
		return nil, errors.New("no shreds")
	}
	first := shreds[0]
	numData := first.DataShreds
	numParity := first.Total - numData
	if numData <= 0 || numParity < 0 {
		return nil, fmt.Errorf("malformed shred header: total %d data %d", first.Total, numData)
	}

	shards := make([][]byte, first.Total)
	sizes := make([]int, numData)
	present := 0
	for _, sh := range shreds {
		if sh.BlockID != first.BlockID || sh.Index < 0 || sh.Index >= first.Total {
			continue
		}
		if shards[sh.Index] != nil {
			continue
		}
		shards[sh.Index] = sh.Payload
		if sh.Index < numData {
			sizes[sh.Index] = sh.Size
		}
		present++
	}
	if present < numData {
		return nil, fmt.Errorf("insufficient shreds: have %d need %d", present, numData)
	}

	enc, err := reedsolomon.New(numData, numParity)
	if err != nil {
		return nil, fmt.Errorf("reedsolomon: %w", err)
	}
	if err := enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	// Data shard sizes travel on DATA shreds only; a shard recovered from
	// parity is full-size unless it is the tail, whose true length is the
	// remainder implied by the other shards. Default missing sizes to the
	// full shred and fix the tail below.
	for i := 0; i < numData; i++ {
		if sizes[i] == 0 && shardHasContent(shards[i]) {
			sizes[i] = len(shards[i])
		}
	}
	out := make([]byte, 0, numData*s.shredSize)
	for i := 0; i < numData; i++ {
		size := sizes[i]
		if size == 0 {
			size = len(shards[i])
		}
		if i == numData-1 {
			out = append(out, trimTail(shards[i], size)...)
		} else {
			out = append(out, shards[i][:size]...)
		}
	}
	return out, nil
}

// shardHasContent reports whether any byte is non-zero.
func shardHasContent(shard []byte) bool {
	for _, b := range shard {
		if b != 0 {
			return true
		}
	}
	return false
}

// trimTail cuts zero padding from the final data shard when its true size
// was lost (tail recovered via parity). Canonical JSON never ends in NUL,
// so trailing zeros are always padding.
func trimTail(shard []byte, size int) []byte {
	if size < len(shard) {
		return shard[:size]
	}
	end := len(shard)
	for end > 0 && shard[end-1] == 0 {
		end--
	}
	return shard[:end]
}
