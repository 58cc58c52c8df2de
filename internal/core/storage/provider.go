// Package storage wires the configured engines into the three stores a node
// runs on: the meta store, the coordinator and the file list.
package storage

import (
	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/kv"
)

// StorageFactory owns the opened stores of one node.
type StorageFactory interface {
	// Meta is the general metadata key-value store.
	Meta() kv.Db
	// Coordinator holds cluster state. It is Meta in local mode.
	Coordinator() kv.Db
	FileList() filelist.FileList
	// Close closes every store once.
	Close() error
}
