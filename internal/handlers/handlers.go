package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gkumurzhi/ExperimentalServer/internal/dispatch"
	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/gkumurzhi/ExperimentalServer/internal/server"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
	"go.uber.org/zap"
)

// UploadDirName is the upload directory created under the root.
const UploadDirName = "uploads"

// hiddenFiles are never served, whatever directory they sit in.
var hiddenFiles = map[string]struct{}{
	dispatch.DecoyFileName: {},
	".env":                 {},
	".gitignore":           {},
	".git":                 {},
	"__pycache__":          {},
}

// errOutsideRoot is returned when a request path escapes its base directory
// or names a symlink.
var errOutsideRoot = errors.New("path outside served directory")

// Config configures the default handlers.
type Config struct {
	// Root is the served directory. Uploads go to Root/uploads.
	Root string

	// Sandbox restricts reads to the upload directory plus files directly
	// under Root.
	Sandbox bool

	// Decoy trims identifying details from INFO and PING.
	Decoy bool

	// Metrics, when set, is reported by PING outside decoy mode.
	Metrics *server.Metrics
}

// Handlers implements the default method set over a directory tree.
type Handlers struct {
	root      string
	uploadDir string
	sandbox   bool
	decoy     bool
	metrics   *server.Metrics
	table     *dispatch.Table
	notes     *NoteStore
	pages     *smugglePages
}

// New resolves the root, creates the upload directory and returns the
// handler set.
func New(cfg Config) (*Handlers, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", abs)
	}

	uploadDir := filepath.Join(abs, UploadDirName)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	notes, err := NewNoteStore(filepath.Join(uploadDir, "notes"))
	if err != nil {
		return nil, err
	}
	removeStalePages(uploadDir)

	return &Handlers{
		root:      abs,
		uploadDir: uploadDir,
		sandbox:   cfg.Sandbox,
		decoy:     cfg.Decoy,
		metrics:   cfg.Metrics,
		notes:     notes,
		pages:     newSmugglePages(),
	}, nil
}

// Root returns the absolute served directory.
func (h *Handlers) Root() string { return h.root }

// Notes returns the note store shared by NOTE and the WebSocket handler.
func (h *Handlers) Notes() *NoteStore { return h.notes }

// Register installs the fixed method set on t. PING reports t's method list.
func (h *Handlers) Register(t *dispatch.Table) {
	h.table = t
	t.HandleFunc("GET", h.Get)
	t.HandleFunc("POST", h.Upload)
	t.HandleFunc("PUT", h.Upload)
	t.HandleFunc("PATCH", h.Upload)
	t.HandleFunc("FETCH", h.Fetch)
	t.HandleFunc("INFO", h.Info)
	t.HandleFunc("PING", h.Ping)
	t.HandleFunc("NONE", h.Upload)
	t.HandleFunc("NOTE", h.Note)
	t.HandleFunc("SMUGGLE", h.Smuggle)
}

// Operations returns the handlers behind the decoy tokens.
func (h *Handlers) Operations() map[dispatch.Operation]dispatch.Handler {
	return map[dispatch.Operation]dispatch.Handler{
		dispatch.OpUpload:   dispatch.HandlerFunc(h.DecoyUpload),
		dispatch.OpDownload: dispatch.HandlerFunc(h.Fetch),
		dispatch.OpInfo:     dispatch.HandlerFunc(h.Info),
		dispatch.OpPing:     dispatch.HandlerFunc(h.Ping),
		dispatch.OpNotepad:  dispatch.HandlerFunc(h.Note),
	}
}

// Resolver builds a dispatch.Resolver with every handler wired. A nil decoy
// table yields a normal-mode resolver.
func (h *Handlers) Resolver(decoy *dispatch.DecoyTable) *dispatch.Resolver {
	t := dispatch.NewTable()
	h.Register(t)
	r := &dispatch.Resolver{Table: t}
	if decoy != nil {
		r.Decoy = decoy
		r.Operations = h.Operations()
		r.ImplicitUpload = dispatch.HandlerFunc(h.DecoyUpload)
	}
	return r
}

// resolveIn maps a slash-separated relative path onto base. It rejects
// anything that lands outside base, after symlink resolution, and refuses
// to hand out a symlink itself.
func resolveIn(base, rel string) (string, error) {
	rel = strings.TrimLeft(rel, "/")
	joined := filepath.Join(base, filepath.FromSlash(rel))
	if !within(base, joined) {
		return "", errOutsideRoot
	}
	if rel == "" {
		return joined, nil
	}

	if fi, err := os.Lstat(joined); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return "", errOutsideRoot
	}
	if resolved, err := filepath.EvalSymlinks(joined); err == nil && !within(base, resolved) {
		return "", errOutsideRoot
	}
	return joined, nil
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// isHidden reports whether any element of the URL path is a hidden name.
func isHidden(urlPath string) bool {
	for _, part := range strings.Split(urlPath, "/") {
		if _, ok := hiddenFiles[part]; ok {
			return true
		}
	}
	return false
}

// sanitizeFilename keeps letters, digits and "._- ", collapses dot runs and
// falls back to a timestamped name when nothing is left.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			b.WriteRune(r)
		}
	}
	safe := b.String()
	for strings.Contains(safe, "..") {
		safe = strings.ReplaceAll(safe, "..", ".")
	}
	safe = strings.TrimSpace(safe)
	if safe == "" || safe == "." {
		safe = "upload_" + time.Now().Format("20060102_150405")
	}
	return safe
}

// createUnique creates name in dir, adding a random suffix before the
// extension when the name is taken.
func createUnique(dir, name string) (*os.File, string, error) {
	candidate := name
	for attempt := 0; attempt < 8; attempt++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
		candidate = withSuffix(name, randomHex(4))
	}
	return nil, "", fmt.Errorf("no free name for %q", name)
}

func withSuffix(name, suffix string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i] + "_" + suffix + name[i:]
	}
	return name + "_" + suffix
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		logging.Error("crypto/rand failed", zap.Error(err))
		return strings.Repeat("0", 2*n)
	}
	return hex.EncodeToString(b)
}

// FormatSize renders a byte count as "1.5 MB".
func FormatSize(size int64) string {
	f := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if f < 1024 {
			return fmt.Sprintf("%.1f %s", f, unit)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f TB", f)
}

func jsonResponse(status int, v any) (*wire.Response, error) {
	resp := wire.NewResponse(status)
	if err := resp.SetJSON(v); err != nil {
		return nil, err
	}
	return resp, nil
}

func notFound(path string) *wire.Response {
	return wire.ErrorResponse(404, "File not found: "+path)
}
