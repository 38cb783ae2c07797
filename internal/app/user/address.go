package user

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress returns the canonical form of a wallet address. EVM hex addresses are
// converted to their EIP-55 checksum form so that case variants map to one identity;
// anything else (Solana base58, ENS-less test ids) is only trimmed.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}
