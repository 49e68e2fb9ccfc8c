package relay

import "errors"

var (
	// ErrSourceConnection wraps failures to establish the change-source
	// connection. Ingestion stops; the store is left as it was.
	ErrSourceConnection = errors.New("change source connection failed")

	// ErrSourceStream wraps failures while reading chunks mid-stream.
	ErrSourceStream = errors.New("change source stream failed")

	// ErrSubscriberGone is returned when offering a row to a subscriber whose
	// session already ended.
	ErrSubscriberGone = errors.New("subscriber gone")

	// ErrQueueFull is returned when a subscriber's delivery queue is full.
	ErrQueueFull = errors.New("delivery queue full")

	// ErrReplayed is returned when a session tries to replay the snapshot twice.
	ErrReplayed = errors.New("snapshot already replayed for session")

	// ErrIngestStarted is returned by Relay.Ingest on every call after the
	// first; a relay consumes exactly one change source.
	ErrIngestStarted = errors.New("ingestion already started")
)
