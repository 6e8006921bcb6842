package geckoterminal

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// flexFloat unmarshals from a JSON number, a numeric string or null. Anything
// unparseable, including NaN and infinities, decodes to 0 instead of failing
// the whole document.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	*f = 0
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// JSON:API envelope
// --------------------------------------------------------------------------

// apiListDocument is a JSON:API document whose data member is an array.
type apiListDocument struct {
	Data     []apiResource `json:"data"`
	Included []apiResource `json:"included"`
}

// apiDocument is a JSON:API document whose data member is a single resource.
type apiDocument struct {
	Data     apiResource   `json:"data"`
	Included []apiResource `json:"included"`
}

type apiResource struct {
	ID            string                     `json:"id"`
	Type          string                     `json:"type"`
	Attributes    json.RawMessage            `json:"attributes"`
	Relationships map[string]apiRelationship `json:"relationships"`
}

type apiRelationship struct {
	Data *apiResourceRef `json:"data"`
}

type apiResourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// --------------------------------------------------------------------------
// Attribute DTOs
// --------------------------------------------------------------------------

// apiPoolAttributes mirrors the attributes of a "pool" resource.
type apiPoolAttributes struct {
	Address              string    `json:"address"`
	Name                 string    `json:"name"`
	BaseTokenPriceUSD    flexFloat `json:"base_token_price_usd"`
	BaseTokenPriceNative flexFloat `json:"base_token_price_native_currency"`
	PoolCreatedAt        *string   `json:"pool_created_at"`
	FDVUSD               flexFloat `json:"fdv_usd"`
	MarketCapUSD         flexFloat `json:"market_cap_usd"`
	ReserveInUSD         flexFloat `json:"reserve_in_usd"`

	PriceChangePercentage struct {
		M5  flexFloat `json:"m5"`
		H1  flexFloat `json:"h1"`
		H24 flexFloat `json:"h24"`
	} `json:"price_change_percentage"`

	Transactions struct {
		H24 struct {
			Buys  flexFloat `json:"buys"`
			Sells flexFloat `json:"sells"`
		} `json:"h24"`
	} `json:"transactions"`

	VolumeUSD struct {
		H1  flexFloat `json:"h1"`
		H24 flexFloat `json:"h24"`
	} `json:"volume_usd"`
}

// apiTokenAttributes mirrors the attributes of a "token" resource.
type apiTokenAttributes struct {
	Address      string    `json:"address"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	Decimals     flexFloat `json:"decimals"`
	ImageURL     string    `json:"image_url"`
	PriceUSD     flexFloat `json:"price_usd"`
	FDVUSD       flexFloat `json:"fdv_usd"`
	MarketCapUSD flexFloat `json:"market_cap_usd"`
	TotalSupply  flexFloat `json:"total_supply"`
	VolumeUSD    struct {
		H24 flexFloat `json:"h24"`
	} `json:"volume_usd"`
}

// apiDexAttributes mirrors the attributes of a "dex" resource.
type apiDexAttributes struct {
	Name string `json:"name"`
}

// apiOHLCVAttributes holds rows of [timestamp, open, high, low, close, volume].
type apiOHLCVAttributes struct {
	OHLCVList [][]flexFloat `json:"ohlcv_list"`
}
