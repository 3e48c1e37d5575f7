package registry

import (
	"fmt"
	"strings"

	"github.com/NobleSOL/dexkeeta-sub000/internal/pool"
)

// PairKey returns the canonical key for an unordered token pair: the two
// identifiers sorted and joined, so (A,B) and (B,A) map to the same key.
func PairKey(tokenA, tokenB string) (string, error) {
	tokenA = strings.TrimSpace(tokenA)
	tokenB = strings.TrimSpace(tokenB)
	if tokenA == "" || tokenB == "" {
		return "", fmt.Errorf("%w: empty token identifier", pool.ErrInvalidInput)
	}
	if tokenA == tokenB {
		return "", fmt.Errorf("%w: identical tokens %q", pool.ErrInvalidInput, tokenA)
	}
	if tokenA > tokenB {
		tokenA, tokenB = tokenB, tokenA
	}
	return tokenA + "/" + tokenB, nil
}
