package model

// Quote is a side-effect-free swap estimate.
type Quote struct {
	AmountIn        uint64 `json:"amount_in"`
	AmountOut       uint64 `json:"amount_out"`
	ReserveIn       uint64 `json:"reserve_in"`
	ReserveOut      uint64 `json:"reserve_out"`
	Fee             string `json:"fee"`
	EffectivePrice  string `json:"effective_price"`
	PriceImpact     string `json:"price_impact"`
	SlippageBps     uint64 `json:"slippage_bps"`
	MinimumReceived uint64 `json:"minimum_received"`
}

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
}

// OnchainQuote prices a swap against the token balances a pair contract
// holds at one block.
type OnchainQuote struct {
	Quote
	Pair           string    `json:"pair"`
	Block          uint64    `json:"block"`
	TokenIn        TokenMeta `json:"token_in"`
	TokenOut       TokenMeta `json:"token_out"`
	AmountInUnits  string    `json:"amount_in_units"`
	AmountOutUnits string    `json:"amount_out_units"`
	MinimumUnits   string    `json:"minimum_received_units"`
}
