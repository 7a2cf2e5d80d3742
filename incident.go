package fathom

import (
	"fmt"
	"net/http"
	"runtime"
)

// defaultIncidentBodies carries the built-in minimal response body for
// each default status, used when no enclosing group registered a custom
// handler for it.
var defaultIncidentBodies = map[int]string{
	http.StatusBadRequest:            "bad request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not found",
	http.StatusMethodNotAllowed:      "method not allowed",
	http.StatusRequestEntityTooLarge: "payload too large",
	http.StatusInternalServerError:   "internal server error",
}

// recoverStackSize bounds the captured goroutine stack trace when a panic
// is converted into a 500 incident.
const recoverStackSize = 4 << 10

// dispatchIncident walks chain (innermost group first) looking for a
// registered handler for inc.Status. The first handler found that returns
// a non-nil plan wins; a handler that returns (nil, nil) defers to the
// next handler in the chain, and a handler that errors is itself treated
// as an internal-server-error incident rather than recursing forever.
func dispatchIncident(req *Request, inc *Incident, chain []*groupContext) *ResponsePlan {
	for i := len(chain) - 1; i >= 0; i-- {
		for _, entry := range chain[i].incidentHandlers {
			if entry.status != inc.Status {
				continue
			}

			plan, err := entry.handler(req, inc)
			if err != nil {
				return builtinIncidentPlan(newIncident(http.StatusInternalServerError, ReasonInternalServerError, err))
			}
			if plan != nil {
				return plan
			}
		}
	}

	return builtinIncidentPlan(inc)
}

// builtinIncidentPlan builds the fallback minimal response for
// inc.Status.
func builtinIncidentPlan(inc *Incident) *ResponsePlan {
	body, ok := defaultIncidentBodies[inc.Status]
	if !ok {
		body = http.StatusText(inc.Status)
	}
	return StringResponse(inc.Status, "text/plain; charset=utf-8", body)
}

// recoverToIncident converts a recovered panic value into a 500 Incident
// with a bounded stack trace.
func recoverToIncident(r interface{}) *Incident {
	var err error
	switch v := r.(type) {
	case error:
		err = v
	default:
		err = fmt.Errorf("%v", v)
	}

	stack := make([]byte, recoverStackSize)
	n := runtime.Stack(stack, false)

	return newIncident(http.StatusInternalServerError, ReasonInternalServerError, fmt.Errorf("panic: %w\n%s", err, stack[:n]))
}
