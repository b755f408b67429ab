// Package discovery turns portal pages into a device set.
//
// Engine scans pages 1..N through the session manager, parses each page
// with goquery, classifies every element by the affordances it exposes and
// renders its command descriptors. A pass is all-or-nothing: any failure
// discards what was collected so far.
//
// Scheduler runs passes in the background, retrying failures with capped
// exponential backoff, and swaps the result into the device registry.
package discovery
