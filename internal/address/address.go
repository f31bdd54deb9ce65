package address

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalid reports a string that is not a 20-byte hex account address.
var ErrInvalid = errors.New("invalid account address")

// Normalize validates a hex account address and returns its EIP-55 checksummed form.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", ErrInvalid
	}
	return common.HexToAddress(raw).Hex(), nil
}

// Short renders an address prefix suitable for user-facing messages.
func Short(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10] + "..."
}
