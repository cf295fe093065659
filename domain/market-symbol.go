package domain

import (
	"fmt"
	"strings"
)

// MarketSymbol identifies one trading pair. The canonical string form is
// "base-quote" in lowercase, e.g. "btc-usdt".
type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base string, quote string) (*MarketSymbol, error) {
	if base == quote {
		return nil, fmt.Errorf("base and quote must be different")
	}
	if base == "" || quote == "" {
		return nil, fmt.Errorf("base and quote must not be empty")
	}
	base = strings.ToLower(base)
	quote = strings.ToLower(quote)
	return &MarketSymbol{
		BaseAsset:  base,
		QuoteAsset: quote,
	}, nil
}

func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	split := strings.Split(s, "-")

	if len(split) != 2 {
		return nil, fmt.Errorf("invalid symbol string: %q", s)
	}

	return NewMarketSymbol(split[0], split[1])
}

func (ms *MarketSymbol) Join(separator string) string {
	return fmt.Sprintf("%s%s%s", ms.BaseAsset, separator, ms.QuoteAsset)
}

func (ms *MarketSymbol) String() string {
	return fmt.Sprintf("%s-%s", ms.BaseAsset, ms.QuoteAsset)
}

func (ms *MarketSymbol) Equal(other *MarketSymbol) bool {
	return ms.BaseAsset == other.BaseAsset && ms.QuoteAsset == other.QuoteAsset
}
