package implindex

// Fragment is one independently loaded contribution: a frozen mapping for a
// single capability plus where it came from.
type Fragment struct {
	Capability string
	Source     string
	Mapping    Mapping
}

// Deliver performs the fragment's single handoff into in.
func (f Fragment) Deliver(in Intake) Path {
	return in.Register(f.Mapping)
}

// DeliverTo hands the fragment to the catalog index for its capability.
func (f Fragment) DeliverTo(c *Catalog) Path {
	return f.Deliver(c.Index(f.Capability))
}
