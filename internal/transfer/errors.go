package transfer

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is.
var (
	ErrDestinationExists  = errors.New("transfer: destination exists")
	ErrTransferIncomplete = errors.New("transfer: incomplete")
	ErrHashMismatch       = errors.New("transfer: content hash mismatch")
	ErrNotRegularFile     = errors.New("transfer: not a regular file")
)

// DestinationExistsError reports a target that already exists while
// overwrite was not requested. Path is a local path for downloads and the
// remote name for uploads.
type DestinationExistsError struct {
	Path string
	Err  error
}

func (e *DestinationExistsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer: destination %s already exists (use overwrite to replace it): %v", e.Path, e.Err)
	}

	return fmt.Sprintf("transfer: destination %s already exists (use overwrite to replace it)", e.Path)
}

func (e *DestinationExistsError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDestinationExists}
	}

	return []error{ErrDestinationExists, e.Err}
}

// TransferIncompleteError reports a streamed upload that stopped before the
// server confirmed the last byte. Offset is the first byte the server had
// not acknowledged.
type TransferIncompleteError struct {
	Path   string
	Offset int64
	Size   int64
	Err    error
}

func (e *TransferIncompleteError) Error() string {
	return fmt.Sprintf("transfer: upload of %s stopped at byte %d of %d: %v", e.Path, e.Offset, e.Size, e.Err)
}

func (e *TransferIncompleteError) Unwrap() []error {
	return []error{ErrTransferIncomplete, e.Err}
}
