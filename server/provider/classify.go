package provider

import (
	"fmt"
	"net/http"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/transport"
	"github.com/tidwall/gjson"
)

// statusOverloaded is Anthropic's non-standard overload status.
const statusOverloaded = 529

// classifyFailure inspects a response for an error object or a failed
// status. It returns nil when the body should be parsed as a success.
func classifyFailure(provider string, resp *transport.Response) *errors.RelayError {
	env, hasErr := transport.ParseErrorEnvelope(resp.Body)

	if hasErr && (env.Type == "overloaded_error" || resp.StatusCode == statusOverloaded) {
		return errors.NewTransientError(fmt.Sprintf("%s is overloaded: %s", provider, env.Message), resp.Body)
	}
	if resp.StatusCode == statusOverloaded || resp.StatusCode == http.StatusServiceUnavailable {
		return errors.NewTransientError(fmt.Sprintf("%s is temporarily unavailable (HTTP %d)", provider, resp.StatusCode), resp.Body)
	}
	if hasErr {
		e := errors.NewTerminalError(fmt.Sprintf("%s error: %s", provider, env.Message), resp.Body)
		e.Upstream = resp.StatusCode >= http.StatusInternalServerError
		e.Details = map[string]interface{}{"provider": provider, "status": resp.StatusCode}
		if env.Type != "" {
			e.Details["provider_error_type"] = env.Type
		}
		return e
	}
	if !resp.Success() {
		if !gjson.ValidBytes(resp.Body) {
			return errors.NewMalformedError(fmt.Sprintf("%s returned HTTP %d with a non-JSON body", provider, resp.StatusCode), resp.Body)
		}
		e := errors.NewTerminalError(fmt.Sprintf("%s returned HTTP %d", provider, resp.StatusCode), resp.Body)
		e.Upstream = resp.StatusCode >= http.StatusInternalServerError
		return e
	}
	if !gjson.ValidBytes(resp.Body) {
		return errors.NewMalformedError(fmt.Sprintf("%s returned invalid JSON", provider), resp.Body)
	}
	return nil
}
