package handlers

import (
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/server"
	"github.com/gkumurzhi/ExperimentalServer/internal/version"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
)

// Directory listing pagination.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// FileInfo is the INFO body for an existing path.
type FileInfo struct {
	Exists      bool   `json:"exists"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	IsFile      bool   `json:"is_file"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"size_human"`
	ContentType string `json:"content_type"`
	Modified    string `json:"modified"`
	Extension   string `json:"extension"`
	SandboxMode bool   `json:"sandbox_mode"`

	TotalItems *int             `json:"total_items,omitempty"`
	Offset     *int             `json:"offset,omitempty"`
	Limit      *int             `json:"limit,omitempty"`
	Contents   []DirectoryEntry `json:"contents,omitempty"`
}

// DirectoryEntry is one listed child of a directory.
type DirectoryEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// Info reports metadata about a file or directory. Directories are listed
// with offset/limit pagination, except in decoy mode.
func (h *Handlers) Info(req *wire.Request) (*wire.Response, error) {
	p, err := h.storagePath(req.Path)
	if err != nil || isHidden(req.Path) {
		resp := wire.NewResponse(400)
		resp.SetText("Invalid path", "text/plain")
		return resp, nil
	}

	st, err := os.Stat(p)
	if err != nil {
		return jsonResponse(404, map[string]any{"exists": false, "path": req.Path})
	}

	name := filepath.Base(p)
	contentType := "unknown"
	if !st.IsDir() {
		if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
			contentType = ct
		}
	}

	info := FileInfo{
		Exists:      true,
		Path:        req.Path,
		Name:        name,
		IsFile:      st.Mode().IsRegular(),
		IsDirectory: st.IsDir(),
		Size:        st.Size(),
		SizeHuman:   FormatSize(st.Size()),
		ContentType: contentType,
		Modified:    st.ModTime().Format(time.RFC3339),
		Extension:   filepath.Ext(name),
		SandboxMode: h.sandbox,
	}

	if st.IsDir() && !h.decoy {
		entries, err := listDirectory(p)
		if err != nil {
			return nil, err
		}
		offset := queryInt(req.Query, "offset", 0)
		if offset < 0 {
			offset = 0
		}
		limit := queryInt(req.Query, "limit", defaultListLimit)
		if limit < 1 {
			limit = 1
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}

		total := len(entries)
		start := min(offset, total)
		end := min(start+limit, total)
		info.TotalItems = &total
		info.Offset = &offset
		info.Limit = &limit
		info.Contents = entries[start:end]
	}

	return jsonResponse(200, info)
}

// listDirectory returns the non-dot children of dir sorted by name.
func listDirectory(dir string) ([]DirectoryEntry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]DirectoryEntry, 0, len(des))
	for _, de := range des {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		entries = append(entries, DirectoryEntry{Name: de.Name(), IsDir: de.IsDir()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func queryInt(q map[string]string, key string, fallback int) int {
	v, ok := q[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// PingResult is the PING body. Decoy mode sends only Status and Timestamp.
type PingResult struct {
	Status           string                  `json:"status"`
	Server           string                  `json:"server,omitempty"`
	Timestamp        string                  `json:"timestamp"`
	SupportedMethods []string                `json:"supported_methods,omitempty"`
	SandboxMode      *bool                   `json:"sandbox_mode,omitempty"`
	DecoyMode        *bool                   `json:"decoy_mode,omitempty"`
	Metrics          *server.MetricsSnapshot `json:"metrics,omitempty"`
}

// Ping answers a health check.
func (h *Handlers) Ping(*wire.Request) (*wire.Response, error) {
	result := PingResult{
		Status:    "pong",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !h.decoy {
		result.Server = version.ServerString()
		if h.table != nil {
			result.SupportedMethods = strings.Split(h.table.MethodList(), ", ")
		}
		sandbox, decoy := h.sandbox, h.decoy
		result.SandboxMode = &sandbox
		result.DecoyMode = &decoy
		if h.metrics != nil {
			snap := h.metrics.Snapshot()
			result.Metrics = &snap
		}
	}

	resp, err := jsonResponse(200, result)
	if err != nil {
		return nil, err
	}
	resp.SetHeader("X-Ping-Response", "pong")
	return resp, nil
}
