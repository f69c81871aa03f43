package testutil

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
)

// NewLogger returns a silenced logger for tests.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// NewChain returns an empty in-memory chain.
func NewChain() *core.Blockchain {
	return core.NewBlockchain(NewMemBlockStore())
}
