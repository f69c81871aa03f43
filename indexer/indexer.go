// Package indexer maintains secondary indexes over committed blocks so
// hosts can answer "which transactions touched this account" and "which
// block holds this transaction" without scanning the chain.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/events"
	"github.com/annealchain/annealchain/storage"
)

const (
	prefixAccountTxs = "idx:acct:tx:"
	prefixTxBlock    = "idx:tx:block:"
)

// Indexer subscribes to chain events and updates lookup tables.
type Indexer struct {
	db  storage.DB
	log *logrus.Entry
}

// New creates an Indexer backed by db and subscribes to executed
// transactions.
func New(db storage.DB, emitter *events.Emitter, log *logrus.Logger) *Indexer {
	idx := &Indexer{db: db, log: log.WithField("component", "indexer")}
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	return idx
}

// TxsByAccount returns the ids of executed transactions that touched the
// account, oldest first.
func (idx *Indexer) TxsByAccount(pubkey string) ([]string, error) {
	return idx.getList(prefixAccountTxs + pubkey)
}

// BlockOfTx returns the hash of the block containing an executed
// transaction.
func (idx *Indexer) BlockOfTx(txID string) (string, error) {
	data, err := idx.db.Get([]byte(prefixTxBlock + txID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (idx *Indexer) onTxExecuted(ev events.Event) {
	if ev.TxID == "" || ev.BlockHash == "" {
		return
	}
	if err := idx.db.Set([]byte(prefixTxBlock+ev.TxID), []byte(ev.BlockHash)); err != nil {
		idx.log.Warnf("index tx %s: %v", ev.TxID, err)
		return
	}
	for _, key := range []string{"sender", "receiver"} {
		pub, _ := ev.Data[key].(string)
		if pub == "" {
			continue
		}
		if err := idx.appendList(prefixAccountTxs+pub, ev.TxID); err != nil {
			idx.log.Warnf("index account %s: %v", pub, err)
		}
	}
}

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("corrupt index %s: %w", key, err)
	}
	return list, nil
}

func (idx *Indexer) appendList(key, value string) error {
	list, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, v := range list {
		if v == value {
			return nil
		}
	}
	list = append(list, value)
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
