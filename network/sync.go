package network

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
)

// GetBlocksRequest asks a peer for blocks starting at FromHeight.
type GetBlocksRequest struct {
	FromHeight uint64 `json:"from_height"`
	Limit      int    `json:"limit"`
}

// BlocksResponse carries a batch of blocks.
type BlocksResponse struct {
	Blocks []*core.Block `json:"blocks"`
}

// BlockReceiver runs the full reception pipeline on a block: validation,
// replay, commit. The pipeline validator implements it.
type BlockReceiver interface {
	Receive(block *core.Block) error
}

// Syncer handles block catch-up between nodes. Received blocks flow
// through the same reception pipeline as Turbine-propagated ones, so the
// signature/PoH/state-root discipline is identical on both paths.
type Syncer struct {
	node     *Node
	bc       *core.Blockchain
	receiver BlockReceiver
	log      *logrus.Entry
}

// NewSyncer registers the sync handlers on node.
func NewSyncer(node *Node, bc *core.Blockchain, receiver BlockReceiver, log *logrus.Logger) *Syncer {
	s := &Syncer{node: node, bc: bc, receiver: receiver, log: log.WithField("component", "sync")}
	node.Handle(MsgGetBlocks, s.handleGetBlocks)
	node.Handle(MsgBlocks, s.handleBlocks)
	return s
}

// RequestBlocks asks peer for blocks starting at fromHeight.
func (s *Syncer) RequestBlocks(peer *Peer, fromHeight uint64) error {
	req, err := json.Marshal(GetBlocksRequest{FromHeight: fromHeight, Limit: 50})
	if err != nil {
		return err
	}
	return peer.Send(Message{Type: MsgGetBlocks, Payload: req})
}

func (s *Syncer) handleGetBlocks(peer *Peer, msg Message) {
	var req GetBlocksRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	blocks := make([]*core.Block, 0, req.Limit)
	for h := req.FromHeight; h < req.FromHeight+uint64(req.Limit); h++ {
		b, err := s.bc.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}
	data, err := json.Marshal(BlocksResponse{Blocks: blocks})
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgBlocks, Payload: data})
}

func (s *Syncer) handleBlocks(_ *Peer, msg Message) {
	var resp BlocksResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	for _, b := range resp.Blocks {
		if b.Height <= s.bc.Height() {
			continue // already have it
		}
		if err := s.receiver.Receive(b); err != nil {
			s.log.Warnf("synced block %d rejected: %v", b.Height, err)
			return // later blocks cannot apply either
		}
	}
}
