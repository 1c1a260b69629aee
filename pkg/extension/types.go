package extension

// EventType is a lifecycle event an extension can subscribe to.
type EventType string

// Invoke is the only event the sidecar subscribes to.
const Invoke EventType = "INVOKE"

// State is the client's position in the register-then-poll lifecycle.
type State int32

const (
	Unregistered State = iota
	Registered
	Polling
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case Polling:
		return "polling"
	default:
		return "unknown"
	}
}

type registerRequest struct {
	Events []EventType `json:"events"`
}

// RegisterResponse is the body returned by a successful registration.
// The client only logs it.
type RegisterResponse struct {
	FunctionName    string `json:"functionName"`
	FunctionVersion string `json:"functionVersion"`
	Handler         string `json:"handler"`
}
