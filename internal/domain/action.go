package domain

// Action represents the direction of a swap performed by a tracker.
type Action int

const (
	// ActionBuy swaps stablecoin into the tracked asset.
	ActionBuy Action = iota
	// ActionSell swaps the tracked asset back into stablecoin.
	ActionSell
)

const (
	actionStringBuy  = "buy"
	actionStringSell = "sell"
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionBuy:
		return actionStringBuy
	case ActionSell:
		return actionStringSell
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
