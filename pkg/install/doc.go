// Package install stages, unpacks and removes live activity packages on a
// node.
//
// A deployment is two steps. CopyActivity streams an artifact from a
// Source into the staging directory, computing its blake3 digest on the
// way. InstallActivity unpacks the staged file (zip, tar, tar.gz or
// tar.zst, detected from its first bytes) into a temporary directory,
// renames it into place as installed/<uuid>/<version>, and writes the
// roster record. Listeners hear about an install only after the record
// is written.
//
// The Manager is a resource.Managed so it can sit in a node's resource
// supervisor; Startup creates its directories and discards leftovers
// from an interrupted run.
package install
