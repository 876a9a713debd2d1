package krpc

import "fmt"

// Code is a KRPC protocol-level error code (§4.2 of the wire spec).
type Code int

// Known error codes. Names follow the BEP-5 taxonomy plus the BEP-44
// extensions used by put/get/cas.
const (
	ErrGeneric            Code = 201
	ErrServer             Code = 202
	ErrProtocol           Code = 203
	ErrMethodUnknown      Code = 204
	ErrInvalidV           Code = 205
	ErrInvalidSig         Code = 206
	ErrSaltTooLong        Code = 207
	ErrCasMismatch        Code = 301
	ErrSeqLessThanCurrent Code = 302
	ErrInvalidNodeId      Code = 305
	ErrInternal           Code = 501
)

// Error is a KRPC error reply: a (code, description) tuple carried on the
// wire as the two-element "e" list.
type Error struct {
	Code        Code
	Description string
}

func (e Error) Error() string {
	return fmt.Sprintf("krpc error %d: %s", e.Code, e.Description)
}

// NewError builds an Error from code and the caller-supplied description.
func NewError(code Code, description string) Error {
	return Error{Code: code, Description: description}
}

// TimeoutError is the synthetic error a messenger yields when a query never
// receives a reply within its deadline.
func TimeoutError() Error {
	return Error{Code: ErrGeneric, Description: "Timeout"}
}

// EchoError is returned to a query whose sender id equals our own id.
func EchoError() Error {
	return Error{Code: ErrGeneric, Description: "Echo!"}
}
