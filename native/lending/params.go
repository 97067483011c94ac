package lending

import "strings"

// Action names a pausable lending flow.
type Action string

const (
	ActionSupply    Action = "supply"
	ActionWithdraw  Action = "withdraw"
	ActionBorrow    Action = "borrow"
	ActionRepay     Action = "repay"
	ActionLiquidate Action = "liquidate"
	// ActionCollateral covers adding and removing collateral.
	ActionCollateral Action = "collateral"
)

// ModuleName is the pause scope covering every lending flow.
const ModuleName = "lending"

// PauseScope returns the fine-grained pause key for an action on a market,
// e.g. "lending/ETH/borrow".
func PauseScope(symbol string, action Action) string {
	return ModuleName + "/" + strings.ToUpper(strings.TrimSpace(symbol)) + "/" + string(action)
}

// PauseScopes returns every scope guarding action on symbol, from the broadest
// to the most specific.
func PauseScopes(symbol string, action Action) []string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	return []string{
		ModuleName,
		ModuleName + "/" + sym,
		PauseScope(sym, action),
	}
}
