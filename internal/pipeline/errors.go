package pipeline

import "errors"

var (
	// ErrNoFolderSelected: the vectorstore path was required but no folder
	// is configured.
	ErrNoFolderSelected = errors.New("no folder selected")

	// ErrNoDocumentsRetrieved: similarity search returned nothing at all.
	// Distinct from "zero relevant after grading", which is recoverable.
	ErrNoDocumentsRetrieved = errors.New("no valid documents retrieved")
)
