package port

import "context"

// Snapshotter is durable storage for one serialized vector snapshot.
type Snapshotter interface {
	// Read returns the last written snapshot. A missing snapshot returns an
	// error wrapping os.ErrNotExist.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the snapshot with data in a single blocking write.
	// Readers never observe a partially written snapshot.
	Write(ctx context.Context, data []byte) error

	// Location describes where the snapshot lives, for logging.
	Location() string
}
