package transport

import (
	"github.com/tidwall/gjson"
)

// Envelope is the error object providers embed in a response body.
// OpenAI and OpenRouter send {"error":{"message","type","code"}}, Anthropic
// sends {"type":"error","error":{"type","message"}}.
type Envelope struct {
	Type    string
	Code    string
	Message string
}

// ParseErrorEnvelope extracts the error object from body. ok is false when
// the body carries no error object, including when it is not JSON.
func ParseErrorEnvelope(body []byte) (Envelope, bool) {
	if !gjson.ValidBytes(body) {
		return Envelope{}, false
	}
	errObj := gjson.GetBytes(body, "error")
	if !errObj.Exists() || errObj.Type == gjson.Null {
		return Envelope{}, false
	}
	if errObj.Type == gjson.String {
		return Envelope{Message: errObj.String()}, true
	}
	env := Envelope{
		Type:    errObj.Get("type").String(),
		Code:    errObj.Get("code").String(),
		Message: errObj.Get("message").String(),
	}
	if env.Message == "" {
		env.Message = errObj.Raw
	}
	return env, true
}
