package config

import (
	"strings"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
	"github.com/annealchain/annealchain/state"
)

// GenesisPrevHash is the canonical all-zeros previous hash of block 0.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock credits the faucet with the initial supply plus every
// configured initial account, then builds and signs block 0 over the
// resulting state root. The block carries no transactions and no PoH
// entries; its id anchors the first PoH segment.
func CreateGenesisBlock(cfg *Config, accounts *state.Accounts, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	if cfg.Genesis.FaucetPubKey != "" && cfg.Genesis.InitialSupply > 0 {
		accounts.Credit(cfg.Genesis.FaucetPubKey, cfg.Genesis.InitialSupply)
	}
	for pub, balance := range cfg.Genesis.InitialAccounts {
		accounts.Credit(pub, balance)
	}

	block := &core.Block{
		Height:    0,
		PrevHash:  GenesisPrevHash,
		Proposer:  proposerPriv.Public().Hex(),
		Timestamp: genesisTimestamp(cfg.Genesis.NetworkID),
		StateRoot: accounts.StateRoot(),
	}
	if err := block.Sign(proposerPriv); err != nil {
		return nil, err
	}
	return block, nil
}

// genesisTimestamp derives a stable timestamp from the network id so every
// node computes the same genesis hash for the same configuration. The value
// is masked well below any live wall clock so child blocks always move
// time forward.
func genesisTimestamp(networkID string) int64 {
	var ts int64
	for _, c := range []byte(crypto.Hash([]byte(networkID))[:12]) {
		ts = ts*31 + int64(c)
	}
	return ts & (1<<50 - 1)
}

// IsGenesisHash reports whether h is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return len(h) == 64 && strings.Count(h, "0") == 64
}
