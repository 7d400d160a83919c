package models

// MessageType names a frame of the validation socket protocol.
//
// A client opens a logical session with "open" and receives a "challenge"
// holding the active authentication nonce. It then sends one "result" and
// receives a "verdict". "close" abandons a session; "error" ends one.
type MessageType string

const (
	MessageOpen      MessageType = "open"
	MessageChallenge MessageType = "challenge"
	MessageResult    MessageType = "result"
	MessageVerdict   MessageType = "verdict"
	MessageError     MessageType = "error"
	MessageClose     MessageType = "close"
)

// Message is one JSON frame. Many logical sessions share a socket and are
// told apart by SessionId.
type Message struct {
	Type         MessageType        `json:"type"`
	SessionId    string             `json:"session_id"`
	ClientId     string             `json:"client_id,omitempty"`
	ValidationId string             `json:"validation_id,omitempty"`
	Nonce        string             `json:"nonce,omitempty"`
	Result       *ValidationRequest `json:"result,omitempty"`
	Verdict      *Verdict           `json:"verdict,omitempty"`
	Error        *ErrorBody         `json:"error,omitempty"`
}

// ErrorBody explains an "error" frame. Code is an error kind such as
// "connection.rejected".
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
