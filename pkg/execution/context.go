package execution

// Context is the key/value bag handed to lifecycle hooks.
type Context map[string]any

// Merge returns a new Context holding c's entries overlaid with override's.
// Keys in override win. Neither input is modified.
func (c Context) Merge(override Context) Context {
	out := make(Context, len(c)+len(override))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of c.
func (c Context) Clone() Context {
	return Context(nil).Merge(c)
}
