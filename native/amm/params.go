package amm

import "strings"

// Action names a pausable pool flow.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// ModuleName is the pause scope covering every pool flow.
const ModuleName = "amm"

// PauseScopes returns every scope guarding action on pool, from the broadest
// to the most specific.
func PauseScopes(poolID string, action Action) []string {
	id := strings.TrimSpace(poolID)
	return []string{
		ModuleName,
		ModuleName + "/" + id,
		ModuleName + "/" + id + "/" + string(action),
	}
}
