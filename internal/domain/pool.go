package domain

import "time"

// TokenRef identifies one side of a pool.
type TokenRef struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

// PriceChange holds percentage price moves over the standard windows.
type PriceChange struct {
	H24 float64 `json:"24h"`
	H1  float64 `json:"1h"`
	M5  float64 `json:"5m"`
}

// Volume holds traded volume in USD.
type Volume struct {
	H24 float64 `json:"24h"`
	H1  float64 `json:"1h"`
}

// Txns counts swaps by direction.
type Txns struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Total returns buys plus sells.
func (t Txns) Total() int {
	return t.Buys + t.Sells
}

// Pool is a normalized, read-only snapshot of a liquidity pool at fetch time.
// A new value is built on every upstream fetch; nothing mutates it afterwards
// except the discovery tracker attaching a SnipeScore to its own copy.
// Discovery payloads always carry the score; plain snapshots omit it.
type Pool struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Name    string `json:"name"`
	DEX     string `json:"dex"`

	BaseToken  TokenRef `json:"baseToken"`
	QuoteToken TokenRef `json:"quoteToken"`

	PriceUSD    float64     `json:"priceUsd"`
	PriceNative float64     `json:"priceNative"`
	PriceChange PriceChange `json:"priceChange"`
	Volume      Volume      `json:"volume"`
	Liquidity   float64     `json:"liquidity"`
	FDV         float64     `json:"fdv"`
	MarketCap   float64     `json:"marketCap"`

	CreatedAt    *time.Time `json:"createdAt"`
	AgeSeconds   *int64     `json:"ageSeconds"`
	AgeFormatted string     `json:"ageFormatted"`

	Txns24h Txns `json:"txns24h"`

	SnipeScore int `json:"snipeScore,omitempty"`
}

// Key returns the chain-qualified identity used for deduplication.
func (p Pool) Key() string {
	return PoolKey(p.Chain, p.Address)
}

// PoolKey builds the chain-qualified identity for a pool address.
func PoolKey(chain, address string) string {
	return chain + ":" + address
}

// Token is a normalized token record.
type Token struct {
	Address     string  `json:"address"`
	Chain       string  `json:"chain"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	Decimals    int     `json:"decimals"`
	PriceUSD    float64 `json:"priceUsd"`
	FDV         float64 `json:"fdv"`
	MarketCap   float64 `json:"marketCap"`
	TotalSupply float64 `json:"totalSupply"`
	Volume24h   float64 `json:"volume24h"`
	ImageURL    string  `json:"imageUrl,omitempty"`
}

// Candle is one OHLCV bar. Timestamp is unix seconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}
