package provider

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/optionflow/internal/models"
)

// Num is a provider numeric field. It accepts a JSON number, a numeric string
// or null; anything absent or unparseable normalises to zero.
type Num struct {
	d     decimal.Decimal
	valid bool
}

// NumOf builds a Num from a float
func NumOf(v float64) Num {
	return Num{d: decimal.NewFromFloat(v), valid: true}
}

func (n *Num) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Num{}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" || strings.EqualFold(s, "nan") {
		*n = Num{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		*n = Num{}
		return nil
	}
	*n = Num{d: d, valid: true}
	return nil
}

// UnmarshalYAML lets fixtures use the same lenient parsing
func (n *Num) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw == nil {
		*n = Num{}
		return nil
	}
	return n.UnmarshalJSON([]byte(fmt.Sprint(raw)))
}

func (n Num) Float() float64 {
	if !n.valid {
		return 0
	}
	return n.d.InexactFloat64()
}

// Count is a non-negative integer view used for volume and open interest
func (n Num) Count() int64 {
	if !n.valid || n.d.IsNegative() {
		return 0
	}
	return n.d.IntPart()
}

func (n Num) Valid() bool { return n.valid }

// RawQuote is a quote as it arrives from a provider
type RawQuote struct {
	Symbol        string `json:"symbol" yaml:"symbol"`
	Last          Num    `json:"last" yaml:"last"`
	Change        Num    `json:"change" yaml:"change"`
	ChangePercent Num    `json:"change_percentage" yaml:"change_percent"`
	Volume        Num    `json:"volume" yaml:"volume"`
	Bid           Num    `json:"bid" yaml:"bid"`
	Ask           Num    `json:"ask" yaml:"ask"`
	High          Num    `json:"high" yaml:"high"`
	Low           Num    `json:"low" yaml:"low"`
	Open          Num    `json:"open" yaml:"open"`
	PrevClose     Num    `json:"prevclose" yaml:"prev_close"`
}

// RawGreeks carries provider-computed sensitivities
type RawGreeks struct {
	Delta Num `json:"delta" yaml:"delta"`
	Gamma Num `json:"gamma" yaml:"gamma"`
	Theta Num `json:"theta" yaml:"theta"`
	Vega  Num `json:"vega" yaml:"vega"`
	MidIV Num `json:"mid_iv" yaml:"iv"`
}

// RawContract is one option row as it arrives from a provider
type RawContract struct {
	Symbol       string     `json:"symbol" yaml:"id"`
	Underlying   string     `json:"underlying" yaml:"underlying"`
	Strike       Num        `json:"strike" yaml:"strike"`
	OptionType   string     `json:"option_type" yaml:"type"`
	Expiration   string     `json:"expiration_date" yaml:"expiration"`
	Bid          Num        `json:"bid" yaml:"bid"`
	Ask          Num        `json:"ask" yaml:"ask"`
	Last         Num        `json:"last" yaml:"last"`
	Volume       Num        `json:"volume" yaml:"volume"`
	OpenInterest Num        `json:"open_interest" yaml:"open_interest"`
	Greeks       *RawGreeks `json:"greeks" yaml:"greeks"`
}

// NormalizeQuote converts a raw quote; missing numbers become zero
func NormalizeQuote(symbol string, r RawQuote) models.Quote {
	if r.Symbol != "" {
		symbol = r.Symbol
	}
	return models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Last:          r.Last.Float(),
		Change:        r.Change.Float(),
		ChangePercent: r.ChangePercent.Float(),
		Volume:        r.Volume.Count(),
		Bid:           r.Bid.Float(),
		Ask:           r.Ask.Float(),
		High:          r.High.Float(),
		Low:           r.Low.Float(),
		Open:          r.Open.Float(),
		PrevClose:     r.PrevClose.Float(),
	}
}

// NormalizeContract converts a raw option row. Rows with an unknown option
// type or no strike are rejected.
func NormalizeContract(underlying string, fallbackExpiry time.Time, r RawContract) (models.OptionContract, error) {
	typ, err := ParseOptionType(r.OptionType)
	if err != nil {
		return models.OptionContract{}, err
	}
	if !r.Strike.Valid() || r.Strike.Float() <= 0 {
		return models.OptionContract{}, fmt.Errorf("contract %q has no strike", r.Symbol)
	}

	expiry := fallbackExpiry
	if r.Expiration != "" {
		if t, err := time.Parse("2006-01-02", r.Expiration); err == nil {
			expiry = t
		}
	}
	if r.Underlying != "" {
		underlying = r.Underlying
	}

	var g RawGreeks
	if r.Greeks != nil {
		g = *r.Greeks
	}

	id := r.Symbol
	if id == "" {
		id = fmt.Sprintf("%s-%s-%s-%s", strings.ToUpper(underlying), expiry.Format("20060102"), typ, r.Strike.d.String())
	}

	return models.OptionContract{
		ID:           id,
		Underlying:   strings.ToUpper(underlying),
		Strike:       r.Strike.Float(),
		Type:         typ,
		Expiration:   expiry,
		Bid:          r.Bid.Float(),
		Ask:          r.Ask.Float(),
		Last:         r.Last.Float(),
		Volume:       r.Volume.Count(),
		OpenInterest: r.OpenInterest.Count(),
		ImpliedVol:   g.MidIV.Float(),
		Delta:        g.Delta.Float(),
		Gamma:        g.Gamma.Float(),
		Theta:        g.Theta.Float(),
		Vega:         g.Vega.Float(),
	}, nil
}

// NormalizeChain converts every usable row and reports how many were skipped
func NormalizeChain(underlying string, expiry time.Time, rows []RawContract) ([]models.OptionContract, int) {
	out := make([]models.OptionContract, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		c, err := NormalizeContract(underlying, expiry, r)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, c)
	}
	return out, skipped
}

// ParseOptionType accepts call/put in long or single-letter form
func ParseOptionType(s string) (models.OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return models.Call, nil
	case "put", "p":
		return models.Put, nil
	default:
		return "", fmt.Errorf("unknown option type %q", s)
	}
}

// ParseDates parses YYYY-MM-DD dates, dropping malformed entries
func ParseDates(raw []string) []time.Time {
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}
