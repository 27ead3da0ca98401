package challenge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// RandomSource returns a uniform random integer in [0, max).
type RandomSource interface {
	Int(max *big.Int) (*big.Int, error)
}

type cryptoSource struct{}

func (cryptoSource) Int(max *big.Int) (*big.Int, error) {
	return rand.Int(rand.Reader, max)
}

func generateCode(src RandomSource, digits int) (string, error) {
	low := int64(1)
	for i := 1; i < digits; i++ {
		low *= 10
	}

	n, err := src.Int(big.NewInt(9 * low))
	if err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}

	return strconv.FormatInt(low+n.Int64(), 10), nil
}

// hasher produces keyed BLAKE2b-256 digests bound to a principal and an
// issuance nonce, so a digest cannot be replayed across challenges.
type hasher struct {
	key []byte
}

func newHasher(secret string) *hasher {
	key := blake2b.Sum256([]byte(secret))
	return &hasher{key: key[:]}
}

func (h *hasher) digest(principalID, nonce, code string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	mac.Write([]byte(principalID))
	mac.Write([]byte{0})
	mac.Write([]byte(nonce))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *hasher) matches(rec *Record, code string) bool {
	computed := h.digest(rec.PrincipalID, rec.Nonce, code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(rec.CodeHash)) == 1
}
