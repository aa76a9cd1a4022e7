package dispatch

import (
	"fmt"
	"strings"

	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
)

// Resolver picks the handler for a request method. A nil Decoy means normal
// mode; otherwise decoy tokens are honoured next to the fixed table.
type Resolver struct {
	Table *Table
	Decoy *DecoyTable

	// Operations backs each decoy token with a handler.
	Operations map[Operation]Handler

	// ImplicitUpload receives unknown methods that carry a body in decoy
	// mode. Nil disables the fallback.
	ImplicitUpload Handler
}

// DecoyMode reports whether decoy tokens are active.
func (r *Resolver) DecoyMode() bool {
	return r.Decoy != nil
}

// Resolve returns the handler for method, or nil when nothing matches.
// OPTIONS always resolves to the built-in preflight handler.
func (r *Resolver) Resolve(method string, hasBody bool) Handler {
	if method == "OPTIONS" {
		return HandlerFunc(r.preflight)
	}

	if h, ok := r.Table.Lookup(method); ok {
		return h
	}
	if r.Decoy == nil {
		return nil
	}

	if op, ok := r.Decoy.Lookup(method); ok {
		if h, ok := r.Operations[op]; ok {
			return h
		}
		return nil
	}

	// Unknown verb carrying a body is treated as an upload.
	if hasBody && r.ImplicitUpload != nil {
		return r.ImplicitUpload
	}
	return nil
}

// AdvertisedMethods is the method list exposed in CORS headers: the
// decoy-safe list in decoy mode, the full fixed table otherwise.
func (r *Resolver) AdvertisedMethods() string {
	if r.DecoyMode() {
		return wire.DecoySafeMethods
	}
	return r.Table.MethodList()
}

// Miss builds the response for an unresolved method: a bare 404 in decoy
// mode, a 405 naming the allowed methods otherwise.
func (r *Resolver) Miss(method string) *wire.Response {
	if r.DecoyMode() {
		return wire.ErrorResponse(404, "Not Found")
	}
	allowed := r.Table.MethodList()
	resp := wire.ErrorResponse(405, fmt.Sprintf("Method '%s' not allowed. Allowed: %s", method, allowed))
	resp.SetHeader("Allow", allowed)
	return resp
}

func (r *Resolver) preflight(req *wire.Request) (*wire.Response, error) {
	resp := wire.NewResponse(204)
	if requested := strings.TrimSpace(req.Header("Access-Control-Request-Method")); requested != "" {
		resp.SetHeader("Access-Control-Allow-Methods", AllowedMethods(r.AdvertisedMethods(), requested))
	}
	return resp, nil
}

// AllowedMethods appends requested to the comma-separated list base unless
// it is already one of its tokens.
func AllowedMethods(base, requested string) string {
	if requested == "" {
		return base
	}
	for _, m := range strings.Split(base, ",") {
		if strings.TrimSpace(m) == requested {
			return base
		}
	}
	if base == "" {
		return requested
	}
	return base + ", " + requested
}
