package persistence

// Persistence bundles the store interfaces so the ledger can depend on a
// single abstraction.
type Persistence struct {
	Instances InstanceStore
	Tokens    TokenStore
	Events    EventStore
}
