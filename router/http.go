package router

import (
	"io"
	"net/http"
)

// maxRequestBody caps what a plugin endpoint may receive.
const maxRequestBody = 4 << 20

// RequestFromHTTP flattens an incoming HTTP request into the
// transport-agnostic form controllers receive. Multi-valued headers and
// query parameters keep their first value.
func RequestFromHTTP(r *http.Request) *Request {
	req := &Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: make(map[string]string, len(r.Header)),
		Query:   make(map[string]string),
	}
	for name := range r.Header {
		req.Headers[name] = r.Header.Get(name)
	}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[name] = values[0]
		}
	}
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err == nil {
			req.Body = body
		}
	}
	return req
}
