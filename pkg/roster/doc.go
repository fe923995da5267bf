// Package roster stores the InstalledLiveActivity records of a node, or
// of the whole fleet on the master.
//
// Records are keyed by activity uuid. Both implementations guard every
// read-modify-write with one mutex and hand out copies, so listing never
// iterates the live map. FileRepository survives restarts by rewriting
// roster.json atomically after each change.
package roster
