// Package rebase implements every chain edit as a rebase.
//
// An edit is split into two phases:
//
//  1. Planning (pure): given the current head path [origin, S1..Sn], build
//     the new sequence of per-step action lists. Append adds lists at the
//     end; Update replaces one list; Delete drops one; Reorder moves one.
//     Every other list is carried over verbatim.
//
//  2. Replay: starting from the origin, re-create each step with
//     chain.GetOrCreate under its new parent. Positions before the first
//     change keep their ids (same parent, same actions); every position
//     after it gets a new id because its parent changed.
//
// Replay only ever adds steps. The old suffix stays in storage and stays
// valid for any preparation that still points into it. Making the new head
// visible is the caller's single compare-and-set, so a failed replay never
// changes what any preparation sees.
package rebase
