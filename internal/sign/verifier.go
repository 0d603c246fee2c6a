// Package sign checks that a commit/expiry pairing was authorized by
// the trusted signer before bets against it are accepted.
package sign

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// domainPrefix keeps commit-authorization signatures from being
// reinterpreted as authorizing anything else.
const domainPrefix = "betledger/commit-auth/v1\n"

// Address identifies a secp256k1 key holder: the last 20 bytes of the
// SHA-256 of the compressed public key.
type Address [20]byte

func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("parse address: want %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// PubKeyAddress derives the on-ledger address for a public key.
func PubKeyAddress(pub *secp256k1.PublicKey) Address {
	var a Address
	sum := sha256.Sum256(pub.SerializeCompressed())
	copy(a[:], sum[len(sum)-len(a):])
	return a
}

// Signature carries the recoverable ECDSA components. V may be given
// as 0/1 or pre-offset as 27/28.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

func (s Signature) compact() []byte {
	v := s.V
	if v < 27 {
		v += 27
	}
	out := make([]byte, 65)
	out[0] = v
	copy(out[1:33], s.R[:])
	copy(out[33:65], s.S[:])
	return out
}

type Verifier struct {
	signer Address
}

func NewVerifier(signer Address) *Verifier {
	return &Verifier{signer: signer}
}

// Digest builds the signed message: sha256(expiryHeight ‖ commit),
// prefixed with the domain tag and hashed again.
func Digest(expiryHeight uint64, commit [32]byte) [32]byte {
	msg := make([]byte, 8+len(commit))
	binary.BigEndian.PutUint64(msg[:8], expiryHeight)
	copy(msg[8:], commit[:])
	inner := sha256.Sum256(msg)

	outer := sha256.New()
	outer.Write([]byte(domainPrefix))
	outer.Write(inner[:])

	var digest [32]byte
	copy(digest[:], outer.Sum(nil))
	return digest
}

// Verify reports whether sig over (expiryHeight, commit) recovers the
// configured signer. Malformed signatures are a plain rejection, not a
// distinct error.
func (v *Verifier) Verify(expiryHeight uint64, commit [32]byte, sig Signature) bool {
	digest := Digest(expiryHeight, commit)
	pub, _, err := secpecdsa.RecoverCompact(sig.compact(), digest[:])
	if err != nil {
		return false
	}
	return PubKeyAddress(pub) == v.signer
}

// Sign produces a recoverable signature over (expiryHeight, commit).
// Only the croupier-side tooling and tests use it; the ledger itself
// never signs.
func Sign(priv *secp256k1.PrivateKey, expiryHeight uint64, commit [32]byte) Signature {
	digest := Digest(expiryHeight, commit)
	compact := secpecdsa.SignCompact(priv, digest[:], true)

	var sig Signature
	sig.V = compact[0]
	copy(sig.R[:], compact[1:33])
	copy(sig.S[:], compact[33:65])
	return sig
}
