package geckoterminal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/chain"
	"github.com/alanyoungcy/poolwatch/internal/domain"
)

const (
	placeholderBase  = "TOKEN"
	placeholderQuote = "QUOTE"
	unknownAge       = "Unknown"
)

// indexIncluded maps included resources by id.
func indexIncluded(included []apiResource) map[string]apiResource {
	out := make(map[string]apiResource, len(included))
	for _, r := range included {
		out[r.ID] = r
	}
	return out
}

// normalizePools converts every decodable pool resource; undecodable entries
// are skipped.
func normalizePools(doc apiListDocument, network string, now time.Time) []domain.Pool {
	inc := indexIncluded(doc.Included)
	pools := make([]domain.Pool, 0, len(doc.Data))
	for _, r := range doc.Data {
		p, err := normalizePool(r, inc, network, now)
		if err != nil {
			continue
		}
		pools = append(pools, p)
	}
	return pools
}

// normalizePool converts a pool resource into a domain.Pool. network is the
// fallback when the resource id carries no network prefix.
func normalizePool(r apiResource, included map[string]apiResource, network string, now time.Time) (domain.Pool, error) {
	var attrs apiPoolAttributes
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return domain.Pool{}, fmt.Errorf("decode pool %s attributes: %w", r.ID, err)
		}
	}

	address := attrs.Address
	if address == "" {
		_, address = splitResourceID(r.ID, network)
	}
	if address == "" {
		return domain.Pool{}, fmt.Errorf("pool %q has no address", r.ID)
	}
	net := network
	if prefix, ok := networkFromID(r.ID, address); ok {
		net = prefix
	}

	pool := domain.Pool{
		Address:     address,
		Chain:       chain.FromNetwork(net),
		Name:        attrs.Name,
		BaseToken:   tokenRef(r, "base_token", included, net, placeholderBase),
		QuoteToken:  tokenRef(r, "quote_token", included, net, placeholderQuote),
		PriceUSD:    float64(attrs.BaseTokenPriceUSD),
		PriceNative: float64(attrs.BaseTokenPriceNative),
		PriceChange: domain.PriceChange{
			H24: float64(attrs.PriceChangePercentage.H24),
			H1:  float64(attrs.PriceChangePercentage.H1),
			M5:  float64(attrs.PriceChangePercentage.M5),
		},
		Volume: domain.Volume{
			H24: float64(attrs.VolumeUSD.H24),
			H1:  float64(attrs.VolumeUSD.H1),
		},
		Liquidity: float64(attrs.ReserveInUSD),
		FDV:       float64(attrs.FDVUSD),
		MarketCap: float64(attrs.MarketCapUSD),
		Txns24h: domain.Txns{
			Buys:  int(attrs.Transactions.H24.Buys),
			Sells: int(attrs.Transactions.H24.Sells),
		},
		DEX:          dexName(r, included),
		AgeFormatted: unknownAge,
	}

	// Recover symbols from "BASE / QUOTE 0.3%" style names.
	if pool.BaseToken.Symbol == placeholderBase || pool.QuoteToken.Symbol == placeholderQuote {
		base, quote := symbolsFromName(attrs.Name)
		if pool.BaseToken.Symbol == placeholderBase && base != "" {
			pool.BaseToken.Symbol = base
		}
		if pool.QuoteToken.Symbol == placeholderQuote && quote != "" {
			pool.QuoteToken.Symbol = quote
		}
	}

	if attrs.PoolCreatedAt != nil {
		if created, err := time.Parse(time.RFC3339, *attrs.PoolCreatedAt); err == nil {
			created = created.UTC()
			age := int64(now.Sub(created) / time.Second)
			if age < 0 {
				age = 0
			}
			pool.CreatedAt = &created
			pool.AgeSeconds = &age
			pool.AgeFormatted = FormatAge(age)
		}
	}

	return pool, nil
}

// tokenRef resolves a base/quote relationship against the included tokens.
func tokenRef(r apiResource, rel string, included map[string]apiResource, network, placeholder string) domain.TokenRef {
	ref := domain.TokenRef{Symbol: placeholder}
	link, ok := r.Relationships[rel]
	if !ok || link.Data == nil {
		return ref
	}
	_, ref.Address = splitResourceID(link.Data.ID, network)

	tok, ok := included[link.Data.ID]
	if !ok {
		return ref
	}
	var attrs apiTokenAttributes
	if err := json.Unmarshal(tok.Attributes, &attrs); err != nil {
		return ref
	}
	if attrs.Address != "" {
		ref.Address = attrs.Address
	}
	if attrs.Symbol != "" {
		ref.Symbol = attrs.Symbol
	}
	ref.Name = attrs.Name
	return ref
}

func dexName(r apiResource, included map[string]apiResource) string {
	link, ok := r.Relationships["dex"]
	if !ok || link.Data == nil {
		return ""
	}
	if d, ok := included[link.Data.ID]; ok {
		var attrs apiDexAttributes
		if err := json.Unmarshal(d.Attributes, &attrs); err == nil && attrs.Name != "" {
			return attrs.Name
		}
	}
	return link.Data.ID
}

// symbolsFromName splits "PEPE / WETH 0.3%" into ("PEPE", "WETH").
func symbolsFromName(name string) (base, quote string) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	if f := strings.Fields(parts[0]); len(f) > 0 {
		base = f[len(f)-1]
	}
	if f := strings.Fields(parts[1]); len(f) > 0 {
		quote = f[0]
	}
	return base, quote
}

// splitResourceID splits "<network>_<address>" ids. Network ids may contain
// underscores themselves (polygon_pos), so the address is taken as everything
// after the fallback network prefix when it matches, else after the last "_".
func splitResourceID(id, network string) (string, string) {
	if network != "" && strings.HasPrefix(id, network+"_") {
		return network, strings.TrimPrefix(id, network+"_")
	}
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

func networkFromID(id, address string) (string, bool) {
	suffix := "_" + address
	if !strings.HasSuffix(id, suffix) {
		return "", false
	}
	prefix := strings.TrimSuffix(id, suffix)
	return prefix, prefix != ""
}

// FormatAge renders an age in seconds as "45s", "12m", "5h" or "3d".
func FormatAge(seconds int64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh", seconds/3600)
	default:
		return fmt.Sprintf("%dd", seconds/86400)
	}
}

func normalizeToken(r apiResource, network string) (domain.Token, error) {
	var attrs apiTokenAttributes
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return domain.Token{}, fmt.Errorf("decode token %s attributes: %w", r.ID, err)
	}
	address := attrs.Address
	if address == "" {
		_, address = splitResourceID(r.ID, network)
	}
	return domain.Token{
		Address:     address,
		Chain:       chain.FromNetwork(network),
		Name:        attrs.Name,
		Symbol:      attrs.Symbol,
		Decimals:    int(attrs.Decimals),
		PriceUSD:    float64(attrs.PriceUSD),
		FDV:         float64(attrs.FDVUSD),
		MarketCap:   float64(attrs.MarketCapUSD),
		TotalSupply: float64(attrs.TotalSupply),
		Volume24h:   float64(attrs.VolumeUSD.H24),
		ImageURL:    attrs.ImageURL,
	}, nil
}

func normalizeCandles(attrs apiOHLCVAttributes) []domain.Candle {
	out := make([]domain.Candle, 0, len(attrs.OHLCVList))
	for _, row := range attrs.OHLCVList {
		if len(row) < 6 {
			continue
		}
		out = append(out, domain.Candle{
			Timestamp: int64(row[0]),
			Open:      float64(row[1]),
			High:      float64(row[2]),
			Low:       float64(row[3]),
			Close:     float64(row[4]),
			Volume:    float64(row[5]),
		})
	}
	return out
}
