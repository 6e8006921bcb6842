package marketdata

import "github.com/alanyoungcy/poolwatch/internal/domain"

// CalculateSnipeScore rates how attractive a freshly listed pool is on a
// 0-100 scale. Younger pools with moderate liquidity and early trading
// activity score highest.
func CalculateSnipeScore(p domain.Pool) int {
	score := 50

	if p.AgeSeconds != nil {
		age := *p.AgeSeconds
		switch {
		case age < 300:
			score += 30
		case age < 1800:
			score += 20
		case age < 3600:
			score += 10
		case age > 86400:
			score -= 20
		}
	}

	switch liq := p.Liquidity; {
	case liq >= 10_000 && liq <= 100_000:
		score += 15
	case liq > 100_000:
		score += 5
	case liq < 1_000:
		score -= 20
	}

	switch txns := p.Txns24h.Total(); {
	case txns > 100:
		score += 10
	case txns > 50:
		score += 5
	}

	if p.PriceChange.M5 > 10 {
		score += 5
	}
	if p.PriceChange.H1 > 20 {
		score += 5
	}

	return min(max(score, 0), 100)
}
