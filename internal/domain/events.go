package domain

// Outbound event names, shared with the browser client.
const (
	EventUserList = "UserList"
	EventIsVerify = "IsVerify"
	EventError    = "Error"
)

// ErrorCode is the symbolic failure kind delivered to exactly one client.
// Store failures are never retried; other room members are not informed.
type ErrorCode string

const (
	RoomCreateError    ErrorCode = "roomCreateError"
	RoomNotFound       ErrorCode = "roomNotFound"
	ClientUnauthorized ErrorCode = "clientUnauthorized"
	RoomVerifyError    ErrorCode = "roomVerifyError"
)
