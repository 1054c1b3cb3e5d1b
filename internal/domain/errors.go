package domain

import "errors"

var (
	// ErrSourceNotFound is returned when the file to quarantine does not exist.
	ErrSourceNotFound = errors.New("quarantine source not found")

	// ErrQuarantinedFileMissing is returned when an entry's payload is gone.
	ErrQuarantinedFileMissing = errors.New("quarantined file missing")

	// ErrUnsafeDestination is returned when a restore target is managed,
	// a system location, or contains a traversal token.
	ErrUnsafeDestination = errors.New("unsafe restore destination")

	// ErrDestinationExists is returned when restore would overwrite a file.
	ErrDestinationExists = errors.New("restore destination already exists")

	// ErrEntryNotFound is returned when an entry is not in the ledger.
	ErrEntryNotFound = errors.New("quarantine entry not found")

	// ErrSelfManaged is returned when an operation targets engine-owned data.
	ErrSelfManaged = errors.New("path belongs to engine-managed storage")

	// ErrAppNotFound is returned when the inventory has no such package.
	ErrAppNotFound = errors.New("installed app not found")
)
