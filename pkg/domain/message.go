package domain

// Request is what a remote step's callback derives from the context: where to send and what.
type Request struct {
	Target  string
	Content any
}

// Command is the message a remote step publishes through the broker.
type Command struct {
	Topic         string `json:"topic"`
	Content       any    `json:"content"`
	CorrelationID string `json:"correlation_id"`
	ReplyTopic    string `json:"reply_topic"`
	User          string `json:"user,omitempty"`

	// Token identifies this particular request. Replies echo it so a stale or
	// duplicated reply for an earlier attempt can be told apart.
	Token string `json:"token,omitempty"`
}

// ReplyStatus describes how the remote service handled a command.
type ReplyStatus string

const (
	ReplySuccess     ReplyStatus = "success"
	ReplyError       ReplyStatus = "error"
	ReplySystemError ReplyStatus = "system_error"
)

// Reply is the answer to a Command, correlated by the saga execution identifier.
type Reply struct {
	CorrelationID string      `json:"correlation_id"`
	Token         string      `json:"token,omitempty"`
	Status        ReplyStatus `json:"status"`
	Content       any         `json:"content,omitempty"`
	Error         string      `json:"error,omitempty"`
	Service       string      `json:"service,omitempty"`
}

// Ok reports whether the remote side succeeded. An empty status counts as success.
func (r Reply) Ok() bool {
	return r.Status == "" || r.Status == ReplySuccess
}

// Decode copies the reply content into out using json tags.
func (r Reply) Decode(out any) error {
	return decodeInto(r.Content, out)
}

// ReplyFor builds a successful reply to cmd.
func ReplyFor(cmd Command, content any) Reply {
	return Reply{
		CorrelationID: cmd.CorrelationID,
		Token:         cmd.Token,
		Status:        ReplySuccess,
		Content:       content,
	}
}
