// Package control is the command surface over the device registry.
//
// Every mutation follows the same path: look the device up, check that the
// operation fits its type, render the payload from its stored descriptors,
// dispatch it through the session manager within the command timeout and,
// only after the portal accepted it, record the new state optimistically.
// A failed dispatch leaves the cached state untouched.
//
// Mutations on one device are serialised by a per-key lock; different
// devices proceed in parallel.
package control
