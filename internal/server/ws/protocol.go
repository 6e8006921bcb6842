package ws

import (
	"encoding/json"
	"strings"

	"github.com/alanyoungcy/poolwatch/internal/chain"
)

// Topics.
const (
	TopicNewPools = "newPools"
	TopicTrending = "trending"
)

// Server-to-client events.
const (
	EventNewPool        = "newPool"
	EventRecentPools    = "recentPools"
	EventTrendingUpdate = "trending:update"
	EventPriceUpdate    = "price:update"
	EventChainUpdate    = "chainUpdate"
	EventDetectorStats  = "detectorStats"
	EventError          = "error"
)

// Client-to-server events.
const (
	cmdSubscribeNewPools   = "subscribe:newPools"
	cmdUnsubscribeNewPools = "unsubscribe:newPools"
	cmdSubscribePrice      = "subscribe:price"
	cmdUnsubscribePrice    = "unsubscribe:price"
	cmdSubscribeTrades     = "subscribe:trades"
	cmdUnsubscribeTrades   = "unsubscribe:trades"
	cmdSubscribeTrending   = "subscribe:trending"
	cmdUnsubscribeTrending = "unsubscribe:trending"
	cmdSubscribeChain      = "subscribe:chain"
	cmdUnsubscribeChain    = "unsubscribe:chain"
)

// NewPoolsTopic returns the new-pool topic for chain, or the global topic
// when chain is empty.
func NewPoolsTopic(ch string) string {
	if ch == "" {
		return TopicNewPools
	}
	return TopicNewPools + ":" + ch
}

// PriceTopic returns the price topic for a pair.
func PriceTopic(pairID string) string { return "price:" + pairID }

// TradesTopic returns the trades topic for a pair on a chain.
func TradesTopic(ch, pairAddress string) string { return "trades:" + ch + ":" + pairAddress }

// ChainTopic returns the per-chain update topic.
func ChainTopic(ch string) string { return "chain:" + ch }

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// inbound is a client frame with its payload left raw until the event is
// known.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// chainArg accepts either "bsc" or {"chain":"bsc"}; null and absent mean
// every chain.
func chainArg(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return chain.Normalize(s), true
	}
	var obj struct {
		Chain string `json:"chain"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return chain.Normalize(obj.Chain), true
	}
	return "", false
}

// pairsArg accepts an array of pair ids or a single id.
func pairsArg(raw json.RawMessage) ([]string, bool) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, false
		}
		ids = []string{one}
	}
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out, len(out) > 0
}

// tradesArg decodes {"chain": "...", "pairAddress": "..."}.
func tradesArg(raw json.RawMessage) (string, string, bool) {
	var obj struct {
		Chain       string `json:"chain"`
		PairAddress string `json:"pairAddress"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", "", false
	}
	ch := chain.Normalize(obj.Chain)
	addr := strings.TrimSpace(obj.PairAddress)
	return ch, addr, ch != "" && addr != ""
}
