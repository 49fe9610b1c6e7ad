package hierarchy

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

var (
	// ErrFolderNotFound is returned for unknown folder ids. It matches access.ErrNotFound.
	ErrFolderNotFound = fmt.Errorf("folder %w", access.ErrNotFound)

	// ErrDocumentNotFound is returned for unknown document ids. It matches access.ErrNotFound.
	ErrDocumentNotFound = fmt.Errorf("document %w", access.ErrNotFound)

	// ErrCycle is returned when a move would place a folder inside its own subtree
	ErrCycle = errors.New("folder cannot be moved into its own subtree")

	// ErrNotDeleted is returned when restoring a folder that is live
	ErrNotDeleted = errors.New("folder is not deleted")

	// ErrDepthExceeded is returned when a chain is deeper than the walker's MaxDepth
	ErrDepthExceeded = errors.New("folder hierarchy too deep")
)
