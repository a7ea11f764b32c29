package model

// Instrument identifies the symbol a check runs against.
type Instrument struct {
	Token         string `json:"token"`
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"trading_symbol,omitempty"`
}

// Key is the "exchange:token" form used in logs and trace IDs.
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}
