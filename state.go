package medigate

import (
	"context"
	"net/http"
	"sync"
)

type stateContextKey string

const stateKey stateContextKey = "medigate_state"

// State holds the response state for a request. Handlers record either a JSON
// body, a raw relay body (downstream passthrough), or an APIError; the wrapper
// middleware writes exactly one of them after the chain finishes.
type State struct {
	mu      sync.Mutex
	err     *APIError
	status  int
	body    any
	raw     []byte
	headers http.Header
}

// HasState returns true if wrapper state exists in the context.
func HasState(ctx context.Context) bool {
	return getState(ctx) != nil
}

func getState(ctx context.Context) *State {
	state, _ := ctx.Value(stateKey).(*State)
	return state
}
