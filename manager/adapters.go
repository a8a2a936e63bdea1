package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopforge/plugrt/events"
	"github.com/shopforge/plugrt/hooks"
	"github.com/shopforge/plugrt/router"
	"github.com/shopforge/plugrt/sandbox"
	"github.com/shopforge/plugrt/widgets"
)

// The adapters translate between the runtime registries' Go signatures and
// the sandbox value bridge. A Lua filter is `function(value, ctx)`, an
// action/listener `function(...)`, a controller `function(request)` returning
// `{status=..., body=..., headers=...}`, a widget `function(config, slot)`
// returning a string.

func filterAdapter(callable *sandbox.Callable) hooks.FilterFunc {
	return func(ctx context.Context, value any, hctx map[string]any) (any, error) {
		return callable.Invoke(ctx, value, hctx)
	}
}

func actionAdapter(callable *sandbox.Callable) hooks.ActionFunc {
	return func(ctx context.Context, args ...any) error {
		_, err := callable.Invoke(ctx, args...)
		return err
	}
}

func listenerAdapter(callable *sandbox.Callable) events.Listener {
	return func(ctx context.Context, payload any) error {
		_, err := callable.Invoke(ctx, payload)
		return err
	}
}

func controllerAdapter(callable *sandbox.Callable) router.Handler {
	return func(ctx context.Context, req *router.Request) (*router.Response, error) {
		arg := map[string]any{
			"method": req.Method,
			"path":   req.Path,
			"body":   string(req.Body),
		}
		if len(req.Headers) > 0 {
			arg["headers"] = stringMapToAny(req.Headers)
		}
		if len(req.Query) > 0 {
			arg["query"] = stringMapToAny(req.Query)
		}
		if req.Identity != nil {
			roles := make([]any, len(req.Identity.Roles))
			for i, r := range req.Identity.Roles {
				roles[i] = r
			}
			arg["identity"] = map[string]any{
				"subject": req.Identity.Subject,
				"roles":   roles,
			}
		}

		out, err := callable.Invoke(ctx, arg)
		if err != nil {
			return nil, err
		}
		return responseFromValue(out)
	}
}

func widgetAdapter(callable *sandbox.Callable) widgets.Renderer {
	return func(ctx context.Context, config map[string]any, slotData map[string]any) (string, error) {
		out, err := callable.Invoke(ctx, config, slotData)
		if err != nil {
			return "", err
		}
		html, ok := out.(string)
		if !ok {
			return "", fmt.Errorf("widget returned %T, want string", out)
		}
		return html, nil
	}
}

// responseFromValue maps a handler's return value onto a Response. A string
// becomes the body of a 200, a table may set status, body and headers.
func responseFromValue(v any) (*router.Response, error) {
	switch val := v.(type) {
	case nil:
		return &router.Response{Status: http.StatusNoContent}, nil
	case string:
		return &router.Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
			Body:    []byte(val),
		}, nil
	case map[string]any:
		resp := &router.Response{Status: http.StatusOK}
		if status, ok := val["status"].(int64); ok {
			resp.Status = int(status)
		}
		if headers, ok := val["headers"].(map[string]any); ok {
			resp.Headers = make(map[string]string, len(headers))
			for k, hv := range headers {
				resp.Headers[k] = fmt.Sprintf("%v", hv)
			}
		}
		switch body := val["body"].(type) {
		case nil:
		case string:
			resp.Body = []byte(body)
		default:
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode handler body: %w", err)
			}
			if resp.Headers == nil {
				resp.Headers = map[string]string{}
			}
			if _, set := resp.Headers["Content-Type"]; !set {
				resp.Headers["Content-Type"] = "application/json"
			}
			resp.Body = encoded
		}
		return resp, nil
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encode handler result: %w", err)
		}
		return &router.Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    encoded,
		}, nil
	}
}

func stringMapToAny(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func encodeRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func decodeRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
