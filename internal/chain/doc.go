// Package chain stores and walks immutable, content-addressed steps.
//
// A Chain wraps a step store with three operations:
//   - GetOrCreate: dedup-by-construction; equal (parent, actions) always
//     resolve to the same stored step
//   - Get: lookup by content address
//   - Ancestors: the path from the origin to a step, with cycle and
//     dangling-parent detection
//
// Resolve and ResolveActions build on Ancestors to turn a preparation plus
// a step reference ("head" or an id on its path) into an action list.
package chain
