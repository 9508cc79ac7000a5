// Package middleware wraps an execution store with cross-cutting persistence behavior.
package middleware

import "github.com/aretw0/sagaflow/pkg/ports"

// Middleware allows wrapping an ExecutionStore to add behavior.
type Middleware func(ports.ExecutionStore) ports.ExecutionStore

// Chain applies middlewares so the first one sees a record first on Save.
func Chain(store ports.ExecutionStore, mws ...Middleware) ports.ExecutionStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
