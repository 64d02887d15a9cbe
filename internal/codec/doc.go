// Package codec translates between live Go values and the stored value
// model, one level at a time.
//
// Decompose turns a live value into a Form: either a scalar leaf or a
// composite whose children are still live values. Recompose is the
// inverse, receiving a Form whose children have already been rebuilt. The
// store drives both recursively; codec itself never touches persistence.
//
// A Registry carries the default reflection codec plus per-type overrides
// and a type-name table. Struct types that were never registered recompose
// to GenericStruct rather than failing, so foreign captures stay readable.
// Values the model cannot hold (functions, channels, cyclic references)
// surface as UnstorableError, which callers treat as non-fatal.
package codec
