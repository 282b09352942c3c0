// Package implindex merges per-component implementor fragments into one
// document-wide index.
//
// Fragments arrive in any order and may arrive before the index is ready to
// accept them. Every fragment goes through the same call, Index.Register:
// until Index.Open runs, mappings are parked in a pending queue; Open flips the
// index to ready and drains that queue in arrival order under the same lock, so
// no registration can slip in between the two steps. From then on mappings are
// merged directly.
//
// Merging is additive. A component seen for the first time is inserted with its
// descriptors in the order given; a component seen again gets the new
// descriptors appended after the existing ones. Nothing is deduplicated,
// reordered or removed, so the final content depends only on the relative order
// of fragments touching the same component, never on when Open ran.
//
// A Catalog holds one Index per capability and creates them on first use.
package implindex
