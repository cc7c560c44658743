// Package ir provides the canonical data model for prepchain.
//
// This package contains type definitions, canonical serialization and
// content-address derivation. All other internal packages import ir; ir
// imports nothing internal.
//
// Key design constraints:
//   - Steps are immutable once created; their id is derived from the parent
//     id and the ordered action list, never from authorship or timestamps
//   - Canonical JSON (RFC 8785 ordering, byte-exact strings) is the ONLY
//     encoding used for identity computation
//   - Action names and parameter keys must be NFC; parameter values are
//     opaque and never normalized
//   - Action parameters are string-to-string; the canonical encoding sorts
//     parameter keys, action order is preserved
//   - All JSON tags use snake_case
package ir
