package fieldtrail

import (
	"github.com/cockroachdb/errors"

	"github.com/mickamy/fieldtrail/internal/tracker"
)

var (
	// ErrUnregisteredType is returned for entities whose Go type was never registered.
	ErrUnregisteredType = errors.New("fieldtrail: unregistered entity type")
	// ErrNotTracked is returned when removing an entity the session does not track.
	ErrNotTracked = tracker.ErrNotTracked
	// ErrNoKey is returned when an entity's key is needed but unset.
	ErrNoKey = errors.New("fieldtrail: entity has no key")
	// ErrAuditWrite wraps failures writing the audit log after host rows were committed.
	ErrAuditWrite = errors.New("fieldtrail: audit write failed")
	// ErrOriginalUnavailable is reported when a modified entity has no snapshot.
	ErrOriginalUnavailable = tracker.ErrOriginalUnavailable
	// ErrNotFound is returned by Find when no row matches.
	ErrNotFound = errors.New("fieldtrail: not found")
	// ErrUnknownRelation is returned for relationship names never registered
	// and for ends of the wrong type.
	ErrUnknownRelation = errors.New("fieldtrail: unknown relation")
)
