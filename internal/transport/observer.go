package transport

// CloseReason says which side ended a connection.
type CloseReason int

const (
	ClosedLocally CloseReason = iota
	RemoteDisconnected
)

func (r CloseReason) String() string {
	switch r {
	case ClosedLocally:
		return "closed locally"
	case RemoteDisconnected:
		return "remote disconnected"
	default:
		return "unknown"
	}
}

// Observer receives connection events. OnStatus carries informational
// notices, OnError actionable failures. Callbacks for one endpoint are
// never invoked concurrently with each other from its receive loop, but
// OnError from a failed Send runs on the sender's goroutine.
type Observer interface {
	OnMessage(text string)
	OnClosed(reason CloseReason)
	OnError(err error)
	OnStatus(text string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Message func(text string)
	Closed  func(reason CloseReason)
	Error   func(err error)
	Status  func(text string)
}

func (f ObserverFuncs) OnMessage(text string) {
	if f.Message != nil {
		f.Message(text)
	}
}

func (f ObserverFuncs) OnClosed(reason CloseReason) {
	if f.Closed != nil {
		f.Closed(reason)
	}
}

func (f ObserverFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f ObserverFuncs) OnStatus(text string) {
	if f.Status != nil {
		f.Status(text)
	}
}

type tee []Observer

// Tee fans every event out to each non-nil observer in order.
func Tee(observers ...Observer) Observer {
	var t tee
	for _, o := range observers {
		if o != nil {
			t = append(t, o)
		}
	}
	return t
}

func (t tee) OnMessage(text string) {
	for _, o := range t {
		o.OnMessage(text)
	}
}

func (t tee) OnClosed(reason CloseReason) {
	for _, o := range t {
		o.OnClosed(reason)
	}
}

func (t tee) OnError(err error) {
	for _, o := range t {
		o.OnError(err)
	}
}

func (t tee) OnStatus(text string) {
	for _, o := range t {
		o.OnStatus(text)
	}
}
