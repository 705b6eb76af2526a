package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	ServerInternalError = 500
	StorageError        = 503

	// 1xxx: handshake failures, the socket is closed without a payload.
	AuthError        = 1000
	TokenMissingCode = 1001
	TokenInvalidCode = 1002
	UserNotFoundCode = 1003
	NotMemberCode    = 1100

	// 2xxx: event level, swallowed by the connection.
	RecordNotFoundCode = 2001
	UnknownEventCode   = 2002
	BadPayloadCode     = 2003
)

var (
	ErrInternal       = NewCodeError(ServerInternalError, "internal error")
	ErrStorage        = NewCodeError(StorageError, "storage unavailable")
	ErrAuth           = NewCodeError(AuthError, "authentication failed")
	ErrTokenMissing   = NewCodeError(TokenMissingCode, "credential missing")
	ErrTokenInvalid   = NewCodeError(TokenInvalidCode, "credential invalid or expired")
	ErrUserNotFound   = NewCodeError(UserNotFoundCode, "user not found")
	ErrNotMember      = NewCodeError(NotMemberCode, "not a chat member")
	ErrRecordNotFound = NewCodeError(RecordNotFoundCode, "record not found")
	ErrUnknownEvent   = NewCodeError(UnknownEventCode, "unknown event type")
	ErrBadPayload     = NewCodeError(BadPayloadCode, "malformed event payload")
)

func init() {
	// every credential failure is also an AuthError
	_ = DefaultCodeRelation.Add(AuthError, TokenMissingCode)
	_ = DefaultCodeRelation.Add(AuthError, TokenInvalidCode)
	_ = DefaultCodeRelation.Add(AuthError, UserNotFoundCode)
}

// IsAuthFailure covers missing, invalid and expired credentials and unknown users.
func IsAuthFailure(err error) bool { return ErrAuth.Is(err) }

func IsNotMember(err error) bool { return ErrNotMember.Is(err) }

func IsNotFound(err error) bool { return ErrRecordNotFound.Is(err) }

func IsUnknownEvent(err error) bool { return ErrUnknownEvent.Is(err) }

// ErrPanic turns a recovered value into a stack-carrying internal error.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	err := &CodeError{Code: ServerInternalError, Msg: "panic error", Detail: fmt.Sprint(r)}
	return errors.WithStack(err)
}

func anyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	default:
		return fmt.Sprint(x)
	}
}
