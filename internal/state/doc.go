// Package state holds the immutable role and user tables the access control
// plane reads from.
//
// A Snapshot is never modified once published. Writers build the next
// snapshot through a Draft and swap it in with Store.Publish; readers call
// Store.Load and see either the old or the new tables, never a mix.
package state
