package kvstore

import "errors"

var (
	ErrKeyEmpty    = errors.New("key is empty")
	ErrKeyNotFound = errors.New("key not found")
)

// Pair is a key/value entry returned by List and accepted by SetAll.
type Pair struct {
	Key   string
	Value []byte
}

// KVStore is the storage interface the ledger persists through. SetAll
// must apply all pairs in a single atomic transaction: either every
// pair is written or none of them is.
type KVStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	SetAll(pairs []Pair) error
	List(prefix string) ([]Pair, error)
	Delete(key string) error
	Close() error
}
