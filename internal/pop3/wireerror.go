package pop3

import "fmt"

// RenderWireError turns a WireError into a "-ERR [CODE] detail" response,
// following the error-kind table in spec §7. Kinds with no extended code
// render as a plain "-ERR detail".
func RenderWireError(err *WireError) Response {
	code := ""
	switch err.Kind {
	case KindAuthFail:
		code = "AUTH"
	case KindLockBusy:
		code = "IN-USE"
	case KindReadOnlyRefusal:
		code = "X-POP3SF-READ-ONLY"
	case KindAdapterTransient:
		code = "SYS/TEMP"
	case KindAdapterPermanent:
		code = "SYS/PERM"
	case KindOverload:
		code = "SYS/TEMP"
	case KindInternalBug:
		code = "SYS/TEMP"
	}

	msg := err.Detail
	if code != "" {
		msg = fmt.Sprintf("[%s] %s", code, err.Detail)
	}
	return Response{OK: false, Message: msg}
}
