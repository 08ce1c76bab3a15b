// Package pricing quotes fee-token prices. The registry quoter serves
// quotes from a YAML token file; the cached quoter layers a Redis cache
// over any quoter so hot tokens skip the underlying source.
package pricing

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/AlloPay/accountd/internal/domain"
)

// Token is one entry of the token registry file.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8

	// PriceWei is the token's price in native wei per base unit, as a
	// decimal or "num/denom" ratio string.
	PriceWei string
}

// tokenEntry is the raw YAML shape; the address is validated on load.
type tokenEntry struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	PriceWei string `yaml:"priceWei"`
}

type registryFile struct {
	Tokens []tokenEntry `yaml:"tokens"`
}

// Registry is a PriceQuoter over a static YAML token file.
type Registry struct {
	tokens map[common.Address]Token
	quotes map[common.Address]*big.Rat
}

// LoadRegistry reads and parses the token registry file. An empty path
// yields an empty registry: every quote then fails with ErrNotFound.
func LoadRegistry(path string) (*Registry, error) {
	registry := &Registry{
		tokens: make(map[common.Address]Token),
		quotes: make(map[common.Address]*big.Rat),
	}
	if path == "" {
		return registry, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse token registry: %w", err)
	}

	for _, entry := range file.Tokens {
		if !common.IsHexAddress(entry.Address) {
			return nil, fmt.Errorf("token %s: malformed address %q", entry.Symbol, entry.Address)
		}
		quote, ok := new(big.Rat).SetString(entry.PriceWei)
		if !ok || quote.Sign() <= 0 {
			return nil, fmt.Errorf("token %s (%s): malformed priceWei %q", entry.Symbol, entry.Address, entry.PriceWei)
		}

		token := Token{
			Address:  common.HexToAddress(entry.Address),
			Symbol:   entry.Symbol,
			Decimals: entry.Decimals,
			PriceWei: entry.PriceWei,
		}
		registry.tokens[token.Address] = token
		registry.quotes[token.Address] = quote
	}
	return registry, nil
}

// Quote returns the registered price in wei per base unit.
func (r *Registry) Quote(_ context.Context, token common.Address) (*big.Rat, error) {
	quote, ok := r.quotes[token]
	if !ok {
		return nil, fmt.Errorf("fee token %s: %w", token, domain.ErrNotFound)
	}
	return new(big.Rat).Set(quote), nil
}

// Token returns the registered metadata for the token.
func (r *Registry) Token(token common.Address) (Token, bool) {
	t, ok := r.tokens[token]
	return t, ok
}
