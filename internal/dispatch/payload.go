package dispatch

import (
	"github.com/roach88/pushreg/internal/bus"
	"github.com/roach88/pushreg/internal/pusherr"
)

// Payload field names.
const (
	FieldError       = "error"
	FieldUpdateToken = "updateToken"
	FieldIsNew       = "isNew"
)

// ErrorPayload renders reason as a bus value. Nil renders as nil.
func ErrorPayload(reason *pusherr.Error) any {
	if reason == nil {
		return nil
	}
	return map[string]any{
		"kind":       string(reason.Kind),
		"code":       reason.Code,
		"statusCode": reason.StatusCode,
		"message":    reason.Message,
	}
}

// ReasonFromPayload extracts the error carried by a host reply, or nil when
// the reply reports success.
func ReasonFromPayload(p bus.Payload) *pusherr.Error {
	raw, ok := p[FieldError]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case *pusherr.Error:
		return v
	case string:
		return pusherr.Server(0, 0, v)
	case map[string]any:
		kind := pusherr.KindServer
		if k, ok := v["kind"].(string); ok && k != "" {
			kind = pusherr.Kind(k)
		}
		msg, _ := v["message"].(string)
		e := &pusherr.Error{
			Kind:       kind,
			Code:       intValue(v["code"]),
			StatusCode: intValue(v["statusCode"]),
			Message:    msg,
		}
		if e.Message == "" {
			e.Message = "custom registration failed"
		}
		return e
	}
	return pusherr.Server(0, 0, "custom registration failed")
}

// intValue accepts the numeric types a payload may hold after passing
// through Go code or a JSON decoder.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
