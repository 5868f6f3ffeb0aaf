// Package httputil provides the JSON response helpers shared by the API
// handlers.
package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/web2img/engine/pkg/types"
)

// WriteJSON marshals v as the response body with the given status
func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"response encoding failed","kind":"internal"}`)
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// WriteError sends the structured error body used by every failure path
func WriteError(ctx *fasthttp.RequestCtx, statusCode int, kind, message string, retryAfter int) {
	WriteJSON(ctx, statusCode, types.ErrorResponse{
		Error:      message,
		Kind:       kind,
		RetryAfter: retryAfter,
	})
}
