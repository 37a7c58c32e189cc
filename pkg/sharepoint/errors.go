package sharepoint

import (
	"errors"

	"github.com/tonimelisma/sharepoint-go/internal/config"
	"github.com/tonimelisma/sharepoint-go/internal/graph"
	"github.com/tonimelisma/sharepoint-go/internal/spurl"
	"github.com/tonimelisma/sharepoint-go/internal/transfer"
)

// Typed errors, for errors.As.
type (
	MalformedURLError       = spurl.MalformedURLError
	MissingSiteError        = spurl.MissingSiteError
	AuthenticationError     = graph.AuthenticationError
	GraphError              = graph.GraphError
	DestinationExistsError  = transfer.DestinationExistsError
	TransferIncompleteError = transfer.TransferIncompleteError
)

// Sentinels, for errors.Is.
var (
	ErrMalformedURL       = spurl.ErrMalformedURL
	ErrMissingSite        = spurl.ErrMissingSite
	ErrMissingCredentials = config.ErrMissingCredentials
	ErrAuthentication     = graph.ErrAuthentication
	ErrNotFound           = graph.ErrNotFound
	ErrThrottled          = graph.ErrThrottled
	ErrForbidden          = graph.ErrForbidden
	ErrAmbiguousLibrary   = graph.ErrAmbiguousDrive
	ErrDestinationExists  = transfer.ErrDestinationExists
	ErrTransferIncomplete = transfer.ErrTransferIncomplete
	ErrHashMismatch       = transfer.ErrHashMismatch

	ErrNotFile   = errors.New("sharepoint: not a file")
	ErrNotFolder = errors.New("sharepoint: not a folder")
)
