package sagaflow

import "github.com/aretw0/sagaflow/internal/runtime"

// Version is the release of the library. Overridden at build time with -ldflags.
var Version = "0.1.0-dev"

// DefaultReplyTopic is where replies are expected unless WithReplyTopic says otherwise.
const DefaultReplyTopic = "sagaflow.replies"

// ErrNotCompensable is returned by Manager.Compensate for executions that have not failed.
var ErrNotCompensable = runtime.ErrNotCompensable
