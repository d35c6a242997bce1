// Package fsutil holds the small file-system helpers shared by the ledger,
// checkpoint and collection writers: atomic replacement of a file and an
// advisory cross-process lock on a directory.
package fsutil
