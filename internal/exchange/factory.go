package exchange

import (
	"fmt"
	"strings"
)

// Credentials identifies a venue account loaded from the store or vault.
type Credentials struct {
	Name          string // binance, hyperliquid
	Type          string // cex or dex
	APIKey        string
	SecretKey     string // private key for dex venues
	Testnet       bool
	WalletAddress string
}

// New builds the adapter for a set of credentials. Venue names accept
// "main" / "testnet" suffixes, e.g. "binance testnet".
func New(creds Credentials) (Adapter, error) {
	name := strings.ToLower(strings.TrimSpace(creds.Name))
	testnet := creds.Testnet || strings.Contains(name, "testnet")

	switch strings.ToLower(creds.Type) {
	case "cex":
		if strings.HasPrefix(name, "binance") {
			return NewBinanceAdapter(creds.APIKey, creds.SecretKey, testnet), nil
		}
		return nil, fmt.Errorf("unsupported cex venue: %s", creds.Name)
	case "dex":
		if strings.HasPrefix(name, "hyperliquid") {
			return NewHyperliquidAdapter(creds.SecretKey, creds.WalletAddress, testnet)
		}
		return nil, fmt.Errorf("unsupported dex venue: %s", creds.Name)
	default:
		return nil, fmt.Errorf("unsupported exchange type: %s", creds.Type)
	}
}
