// Package message defines the RPC envelope exchanged between client and server.
//
// Every frame body carries one envelope: routing metadata (RPCMeta) followed by
// an opaque payload. The metadata identifies the service, the method, the
// request id and the direction; the payload only becomes meaningful once the
// metadata tells the receiver which message type to parse it into.
package message

// Error codes carried in RPCMeta.ErrorCode. CodeOK is the only one a server
// produces by default; the rest are sent only when error replies are enabled.
const (
	CodeOK             int32 = 0
	CodeUnknownService int32 = 1 // service_name not registered
	CodeUnknownMethod  int32 = 2 // method_name not found in the service
	CodeBadRequest     int32 = 3 // request payload could not be parsed
	CodeHandlerError   int32 = 4 // the method returned an error
	CodeInternal       int32 = 5 // the response could not be encoded
	CodeRejected       int32 = 6 // a middleware refused the call before the method ran
)

// RPCMeta carries the routing and correlation fields of an envelope.
//
//   - On request:  IsRequest is true, ErrorCode is 0, RequestID is chosen by the caller.
//   - On response: ServiceName, MethodName and RequestID are copied from the request.
type RPCMeta struct {
	ServiceName string // Fully-qualified service name, e.g. "demo.EchoService"
	MethodName  string // Method name within the service, e.g. "Echo"
	RequestID   uint64 // Unique per connection and direction
	IsRequest   bool
	ErrorCode   int32  // 0 on success
	ErrorMsg    string // Empty on success
}

// ResponseMeta builds the metadata of the reply to m.
func (m *RPCMeta) ResponseMeta() *RPCMeta {
	return &RPCMeta{
		ServiceName: m.ServiceName,
		MethodName:  m.MethodName,
		RequestID:   m.RequestID,
		IsRequest:   false,
	}
}

// ErrorMeta builds the metadata of an error reply to m.
func (m *RPCMeta) ErrorMeta(code int32, msg string) *RPCMeta {
	rsp := m.ResponseMeta()
	rsp.ErrorCode = code
	rsp.ErrorMsg = msg
	return rsp
}

// RPCMessage is a decoded envelope. Payload is left serialized.
type RPCMessage struct {
	Meta    RPCMeta
	Payload []byte
}
