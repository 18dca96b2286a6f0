package storage

import (
	"context"
	"io"
)

// ObjectStore is the surface the asset manager needs from the remote file
// store. Uploads and deletes are independent, at-least-once operations with
// no transaction spanning them.
type ObjectStore interface {
	// EnsureFolder creates the container for one submission's files under
	// the form kind's parent prefix if it does not already exist, and
	// returns its handle. Safe to call repeatedly with the same arguments.
	EnsureFolder(ctx context.Context, parent, name string) (string, error)

	// Upload stores one object inside the folder and returns the opaque
	// handle used for deletion plus the shareable link recorded in the
	// ledger.
	Upload(ctx context.Context, folder, filename, contentType string, r io.Reader, size int64) (remoteID, link string, err error)

	// Delete removes one object by its handle. Deleting an object that is
	// already gone is not an error.
	Delete(ctx context.Context, remoteID string) error
}
