// Package object defines the content-addressed value model for retrace.
//
// This package contains the payload and scalar type definitions, canonical
// serialization, and content-key computation. All other internal packages
// import object; object imports nothing internal. This keeps the value
// model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Payload is a sealed union: Primitive, Sequence, Mapping, Struct.
//     Decomposition and recomposition match it exhaustively.
//   - Content keys are SHA-256 over domain-separated canonical bytes.
//     Two payloads that serialize identically always share one key.
//   - Canonical JSON follows RFC 8785: UTF-16 key ordering, NFC-normalized
//     strings, no HTML escaping. Floats are carried as shortest-round-trip
//     strings and bytes as base64 so the encoding stays deterministic.
package object
