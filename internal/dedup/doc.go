// Package dedup merges independently transcribed audio slices into one
// ordered transcript. Consecutive slices carry unavoidable textual overlap
// because slice boundaries do not align with word or sentence boundaries,
// so each raw result is cleaned against the accumulated transcript through
// a tiered funnel of string heuristics before it is stored. Reassembly is
// a sorted-index concatenation, so results may arrive in any order.
package dedup
