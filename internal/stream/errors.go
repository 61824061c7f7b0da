package stream

import "errors"

// ErrClosed is returned by Append and Subscribe once a session has been
// removed from the hub (it exited and its teardown completed, or it was
// never opened). Late subscribers handle it by replaying the recording
// from disk.
var ErrClosed = errors.New("stream: session closed")
