package enum

type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

func (s ConnectionState) String() string {
	return string(s)
}

type SourceMode string

const (
	SourcePush SourceMode = "push"
	SourcePoll SourceMode = "poll"
)

func (m SourceMode) String() string {
	return string(m)
}

// ParseSourceMode falls back to push for unknown values.
func ParseSourceMode(s string) SourceMode {
	if SourceMode(s) == SourcePoll {
		return SourcePoll
	}
	return SourcePush
}

type MailEventKind string

const (
	MailEventNewMail MailEventKind = "new_mail"
)

func (k MailEventKind) String() string {
	return string(k)
}
