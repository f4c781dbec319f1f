package peer

import "errors"

var (
	// ErrChunkTimeout means no complete chunk arrived within the fetch window.
	// The orchestrator retries the chunk on a later pass.
	ErrChunkTimeout = errors.New("chunk fetch timed out")
	// ErrIncompleteChunk means the assembled bytes do not match the expected
	// chunk length. Nothing is written and the chunk is retried.
	ErrIncompleteChunk = errors.New("assembled chunk has wrong length")

	ErrUnknownFile        = errors.New("file not in catalog")
	ErrDownloadInProgress = errors.New("download already in progress")
	ErrNotStarted         = errors.New("node not started")
	ErrAlreadyStarted     = errors.New("node already started")
)
