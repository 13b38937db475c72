package manifest

import pkgerrors "github.com/pkg/errors"

// Sentinel error kinds per spec §7. Callers discriminate with errors.Is;
// wrapped causes are attached with pkgerrors.Wrap/Wrapf so %+v still prints a
// stack from the original failure site.
var (
	// ErrConflict is a benign PreconditionFailed on a HEAD or segment PUT.
	// The write session transitions to Conflicted and returns this to the
	// caller, which may restart from a fresh open_write.
	ErrConflict = pkgerrors.New("manifest: conflict")

	// ErrUnavailable is surfaced once the object-store adapter's bounded
	// retry policy for transient I/O is exhausted.
	ErrUnavailable = pkgerrors.New("manifest: unavailable")

	// ErrCorrupted marks a bad checksum or a malformed HEAD/segment/
	// checkpoint object. Fatal to the operation; a corrupted HEAD requires
	// operator intervention, the core does not auto-repair it.
	ErrCorrupted = pkgerrors.New("manifest: corrupted")

	// ErrSnapshotExpired is returned by a read session whose lease has
	// expired and whose snapshot objects may already have been collected.
	ErrSnapshotExpired = pkgerrors.New("manifest: snapshot expired")

	// ErrNotInitialized is returned when HEAD is absent and the caller is
	// not running Initialize.
	ErrNotInitialized = pkgerrors.New("manifest: not initialized")

	// ErrInvalidState is API misuse: e.g. commit, put or delete on an
	// already-terminated write session, or Renew/Get/Scan on an ended read
	// session. Concurrent calls on one write session are serialized by its
	// mutex and are not rejected with this error.
	ErrInvalidState = pkgerrors.New("manifest: invalid state")

	// ErrNotFound is returned by get(k) when no live value exists for k at
	// the session's snapshot.
	ErrNotFound = pkgerrors.New("manifest: not found")
)
