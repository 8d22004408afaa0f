package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Category      string   `json:"category"`
	ActiveFromAPI flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	Tokens        []Token  `json:"tokens"`
	Volume        string   `json:"volume"`
	UMAResolution string   `json:"umaResolutionStatus"`
	EndDateISO    string   `json:"end_date_iso"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	Description   string   `json:"description"`
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:       m.ID,
		Question: m.Question,
		Slug:     m.Slug,
		Category: m.Category,
	}
	if dm.Question == "" {
		dm.Question = "Unknown"
	}

	// Parse volume
	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	// Yes price comes from the first entry of the JSON-encoded price list.
	dm.YesPrice = m.yesPrice()

	// Status
	switch {
	case m.Closed && m.hasWinner():
		dm.Status = domain.MarketStatusResolved
	case m.Closed:
		dm.Status = domain.MarketStatusClosed
	default:
		dm.Status = domain.MarketStatusActive
	}

	// Timestamps
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ClosedAt = &t
		}
	}

	return dm
}

// ToDomainResolution derives the settled outcome of a market. A market that
// closed with no winning token is treated as voided (canceled or settled
// off-platform).
func (m *APIMarket) ToDomainResolution() domain.MarketResolution {
	res := domain.MarketResolution{MarketID: m.ID}
	if !m.Closed {
		return res
	}
	res.Resolved = true

	for _, t := range m.Tokens {
		if !t.Winner {
			continue
		}
		if strings.EqualFold(t.Outcome, "Yes") {
			res.Winner = domain.SideYes
		} else {
			res.Winner = domain.SideNo
		}
		return res
	}

	res.Void = true
	return res
}

func (m *APIMarket) hasWinner() bool {
	for _, t := range m.Tokens {
		if t.Winner {
			return true
		}
	}
	return false
}

// yesPrice parses the JSON-encoded outcome price list and returns the first
// entry, which Gamma orders as the Yes outcome. Returns 0 when absent.
func (m *APIMarket) yesPrice() float64 {
	if m.OutcomePrices == "" {
		return 0
	}
	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) == 0 {
		return 0
	}
	p, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return 0
	}
	return p
}
