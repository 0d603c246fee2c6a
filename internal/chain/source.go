// Package chain supplies the environmental values the ledger anchors
// randomness to: the current height and the block hash recorded at a
// bet's placement height.
package chain

import (
	"context"
	"fmt"
	"sync"
)

type Source interface {
	Height(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) ([32]byte, error)
}

// MemorySource is a Source fed by hand. Tests and the dev mode use it.
type MemorySource struct {
	mu     sync.RWMutex
	height uint64
	hashes map[uint64][32]byte
}

func NewMemorySource() *MemorySource {
	return &MemorySource{hashes: make(map[uint64][32]byte)}
}

func (m *MemorySource) SetHeight(h uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = h
}

func (m *MemorySource) SetBlockHash(height uint64, hash [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[height] = hash
}

func (m *MemorySource) Height(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height, nil
}

func (m *MemorySource) BlockHash(ctx context.Context, height uint64) ([32]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[height]
	if !ok {
		return [32]byte{}, fmt.Errorf("no hash recorded for height %d", height)
	}
	return h, nil
}
