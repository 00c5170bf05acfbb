package engine

// TxBuilder configures and starts a transaction: TXBuild().SetType(flavor).
// SetSnapshot(addr).Begin().
type TxBuilder struct {
	rt               *Runtime
	flavor           Flavor
	snapshotOverride *Address
}

// TXBuild starts building a new transaction on rt.
func (rt *Runtime) TXBuild() *TxBuilder {
	return &TxBuilder{rt: rt, flavor: OptimisticFlavor}
}

// SetType selects the transaction flavor. Defaults to OPTIMISTIC.
func (b *TxBuilder) SetType(flavor Flavor) *TxBuilder {
	b.flavor = flavor
	return b
}

// SetSnapshot pins the transaction's snapshot instead of fetching one
// lazily on first read.
func (b *TxBuilder) SetSnapshot(addr Address) *TxBuilder {
	a := addr
	b.snapshotOverride = &a
	return b
}

// Begin constructs and pushes the configured context onto the calling
// goroutine's stack.
func (b *TxBuilder) Begin() (TxContext, error) {
	return b.rt.Begin(b.flavor, b.snapshotOverride)
}
