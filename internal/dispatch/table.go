package dispatch

import (
	"fmt"
	"strings"

	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
)

// Handler produces a response for one request. Ordinary failures are
// expressed as status codes; a returned error (or a panic) is treated by the
// connection driver as an unexpected fault and answered with a 500.
type Handler interface {
	ServeRequest(req *wire.Request) (*wire.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *wire.Request) (*wire.Response, error)

// ServeRequest calls f(req).
func (f HandlerFunc) ServeRequest(req *wire.Request) (*wire.Response, error) {
	return f(req)
}

// Operation is a logical server operation that decoy tokens map onto.
type Operation int

const (
	OpUpload Operation = iota
	OpDownload
	OpInfo
	OpPing
	OpNotepad
)

// Operations lists every operation in a stable order.
var Operations = []Operation{OpUpload, OpDownload, OpInfo, OpPing, OpNotepad}

var operationNames = map[Operation]string{
	OpUpload:   "upload",
	OpDownload: "download",
	OpInfo:     "info",
	OpPing:     "ping",
	OpNotepad:  "notepad",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// ParseOperation maps a name such as "upload" back to its Operation.
func ParseOperation(name string) (Operation, error) {
	for op, n := range operationNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}

// Table is the fixed method table. Registration order is kept so the
// advertised method list is deterministic.
type Table struct {
	methods  []string
	handlers map[string]Handler
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{handlers: make(map[string]Handler)}
}

// Handle registers h for method, replacing any previous registration.
func (t *Table) Handle(method string, h Handler) {
	if _, ok := t.handlers[method]; !ok {
		t.methods = append(t.methods, method)
	}
	t.handlers[method] = h
}

// HandleFunc registers a function for method.
func (t *Table) HandleFunc(method string, fn func(*wire.Request) (*wire.Response, error)) {
	t.Handle(method, HandlerFunc(fn))
}

// Lookup returns the handler registered for method. Method tokens are
// case-sensitive.
func (t *Table) Lookup(method string) (Handler, bool) {
	h, ok := t.handlers[method]
	return h, ok
}

// Methods returns the registered methods in registration order.
func (t *Table) Methods() []string {
	out := make([]string, len(t.methods))
	copy(out, t.methods)
	return out
}

// MethodList renders Methods plus OPTIONS as a comma-separated header value.
func (t *Table) MethodList() string {
	methods := t.Methods()
	if _, ok := t.handlers["OPTIONS"]; !ok {
		methods = append(methods, "OPTIONS")
	}
	return strings.Join(methods, ", ")
}
