// Package chain names the supported networks, maps them to upstream network
// identifiers and validates addresses per chain family.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

const (
	Ethereum  = "ethereum"
	BSC       = "bsc"
	Solana    = "solana"
	Base      = "base"
	Arbitrum  = "arbitrum"
	Polygon   = "polygon"
	Avalanche = "avalanche"
	Optimism  = "optimism"
)

// Defaults is the chain list used when the configuration does not name one.
var Defaults = []string{Ethereum, BSC, Solana, Base, Arbitrum}

var aliases = map[string]string{
	"eth":         Ethereum,
	"sol":         Solana,
	"bnb":         BSC,
	"binance":     BSC,
	"arb":         Arbitrum,
	"matic":       Polygon,
	"polygon_pos": Polygon,
	"avax":        Avalanche,
	"op":          Optimism,
}

// GeckoTerminal uses its own network ids for a few chains.
var networkIDs = map[string]string{
	Ethereum:  "eth",
	Polygon:   "polygon_pos",
	Avalanche: "avax",
}

var evm = map[string]bool{
	Ethereum:  true,
	BSC:       true,
	Base:      true,
	Arbitrum:  true,
	Polygon:   true,
	Avalanche: true,
	Optimism:  true,
}

// Normalize lowercases and trims a chain name and resolves common aliases.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Network returns the upstream network id for a canonical chain name.
func Network(name string) string {
	n := Normalize(name)
	if id, ok := networkIDs[n]; ok {
		return id
	}
	return n
}

// FromNetwork maps an upstream network id back to the canonical chain name.
func FromNetwork(network string) string {
	return Normalize(network)
}

// IsEVM reports whether the chain uses 20-byte hex addresses.
func IsEVM(name string) bool {
	return evm[Normalize(name)]
}

// ValidateAddress checks that address is well formed for the given chain.
// Chains without a known address format accept any non-empty value.
func ValidateAddress(name, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("chain: empty address: %w", domain.ErrInvalidAddress)
	}

	switch n := Normalize(name); {
	case IsEVM(n):
		if !common.IsHexAddress(address) {
			return fmt.Errorf("chain: %s address %q: %w", n, address, domain.ErrInvalidAddress)
		}
	case n == Solana:
		raw, err := base58.Decode(address)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("chain: solana address %q: %w", address, domain.ErrInvalidAddress)
		}
	}
	return nil
}
