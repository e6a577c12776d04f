package crdt

// Missing returns the items whose dot is not covered by ctx, preserving
// order. Items without a dot cannot be diffed and are always included.
func Missing[T any](ctx *DotContext, items []T, dotOf func(T) (Dot, bool)) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		d, ok := dotOf(item)
		if ok && ctx != nil && ctx.Contains(d) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ContextFromClock wraps a bare clock received from a peer.
func ContextFromClock(clock VectorClock) *DotContext {
	ctx := NewDotContext()
	for n, c := range clock {
		ctx.Clock[n] = c
	}
	return ctx
}
