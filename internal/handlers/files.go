package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

const htmlCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'"

// UploadResult is the body of a successful upload.
type UploadResult struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
	SizeHuman   string `json:"size_human"`
	Path        string `json:"path"`
	UploadedAt  string `json:"uploaded_at"`
	ContentType string `json:"content_type"`
}

// Get serves a file under the root. "/" and directories map to index.html.
func (h *Handlers) Get(req *wire.Request) (*wire.Response, error) {
	if isHidden(req.Path) {
		return notFound(req.Path), nil
	}

	p, ok := h.readPath(req.Path)
	if !ok {
		return notFound(req.Path), nil
	}

	info, err := os.Stat(p)
	if err != nil {
		return notFound(req.Path), nil
	}
	if info.IsDir() {
		p = filepath.Join(p, "index.html")
		if info, err = os.Stat(p); err != nil || info.IsDir() {
			return notFound(req.Path), nil
		}
	}

	if resp, ok := h.servePage(p); ok {
		return resp, nil
	}

	resp := wire.NewResponse(200)
	contentType := wire.ContentTypeFor(p)
	if err := resp.SetFile(p, contentType); err != nil {
		return notFound(req.Path), nil
	}
	if strings.HasPrefix(contentType, "text/html") {
		resp.SetHeader("Content-Security-Policy", htmlCSP)
	}
	return resp, nil
}

// readPath maps a GET path to the filesystem. In sandbox mode only the
// upload directory, static/ and files directly under the root are readable.
func (h *Handlers) readPath(urlPath string) (string, bool) {
	clean := strings.TrimLeft(urlPath, "/")
	if clean == "" {
		clean = "index.html"
	}

	if !h.sandbox {
		p, err := resolveIn(h.root, clean)
		return p, err == nil
	}

	switch {
	case clean == UploadDirName || strings.HasPrefix(clean, UploadDirName+"/"):
		p, err := resolveIn(h.uploadDir, strings.TrimPrefix(clean, UploadDirName))
		return p, err == nil
	case clean == "static" || strings.HasPrefix(clean, "static/"):
		p, err := resolveIn(filepath.Join(h.root, "static"), strings.TrimPrefix(clean, "static"))
		return p, err == nil
	case strings.Contains(clean, "/"):
		return "", false
	default:
		p, err := resolveIn(h.root, clean)
		return p, err == nil
	}
}

// storagePath maps a path for FETCH and INFO: the upload directory in
// sandbox mode, the root otherwise.
func (h *Handlers) storagePath(urlPath string) (string, error) {
	clean := strings.TrimLeft(urlPath, "/")
	if h.sandbox {
		clean = strings.TrimPrefix(clean, UploadDirName+"/")
		if clean == UploadDirName {
			clean = ""
		}
		return resolveIn(h.uploadDir, clean)
	}
	return resolveIn(h.root, clean)
}

// Fetch streams a file as an attachment with X-File-* metadata headers.
func (h *Handlers) Fetch(req *wire.Request) (*wire.Response, error) {
	p, err := h.storagePath(req.Path)
	var info os.FileInfo
	if err == nil && !isHidden(req.Path) {
		info, err = os.Stat(p)
	}
	if err != nil || info == nil || info.IsDir() {
		resp := wire.NewResponse(404)
		resp.SetHeader("X-Fetch-Status", "file-not-found")
		msg := "Cannot fetch: " + req.Path
		if h.sandbox {
			msg += " (sandbox mode: only uploads/ accessible)"
		}
		resp.SetText(msg, "text/plain")
		return resp, nil
	}

	resp := wire.NewResponse(200)
	if err := resp.SetFile(p, ""); err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	name := filepath.Base(p)
	resp.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	resp.SetHeader("X-Fetch-Status", "success")
	resp.SetHeader("X-File-Name", name)
	resp.SetHeader("X-File-Size", strconv.FormatInt(info.Size(), 10))
	resp.SetHeader("X-File-Modified", info.ModTime().Format(time.RFC3339))

	logging.Debug("Fetch", zap.String("file", name), zap.Int64("size", info.Size()))
	return resp, nil
}

// Upload stores the request body under uploads/. The name comes from
// X-File-Name, then the last path element, then a timestamp.
func (h *Handlers) Upload(req *wire.Request) (*wire.Response, error) {
	name := req.Header("X-File-Name")
	if name != "" {
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
	}
	if name == "" {
		if trimmed := strings.Trim(req.Path, "/"); trimmed != "" {
			name = path.Base(trimmed)
		}
	}
	if name == "" {
		name = "upload_" + time.Now().Format("20060102_150405")
	}

	if !req.HasBody() {
		resp := wire.NewResponse(400)
		resp.SetHeader("X-Upload-Status", "no-data")
		err := resp.SetJSON(map[string]any{
			"success": false,
			"error":   "No file data provided",
			"hint":    "Send file content in request body with X-File-Name header",
		})
		return resp, err
	}

	saved, err := h.writeUpload(sanitizeFilename(name), req.Body)
	if err != nil {
		logging.Error("Upload failed", zap.String("file", name), zap.Error(err))
		resp := wire.NewResponse(500)
		resp.SetHeader("X-Upload-Status", "error")
		jerr := resp.SetJSON(map[string]any{"success": false, "error": err.Error()})
		return resp, jerr
	}

	size := len(req.Body)
	resp, err := jsonResponse(201, UploadResult{
		Success:     true,
		Filename:    saved,
		Size:        size,
		SizeHuman:   FormatSize(int64(size)),
		Path:        "/" + UploadDirName + "/" + saved,
		UploadedAt:  time.Now().Format(time.RFC3339),
		ContentType: req.ContentType(),
	})
	if err != nil {
		return nil, err
	}
	resp.SetHeader("X-Upload-Status", "success")
	resp.SetHeader("X-File-Name", saved)
	resp.SetHeader("X-File-Size", strconv.Itoa(size))
	resp.SetHeader("X-File-Path", "/"+UploadDirName+"/"+saved)

	logging.Debug("Upload stored", zap.String("file", saved), zap.Int("size", size))
	return resp, nil
}

func (h *Handlers) writeUpload(name string, data []byte) (string, error) {
	f, saved, err := createUnique(h.uploadDir, name)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(filepath.Join(h.uploadDir, saved))
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(filepath.Join(h.uploadDir, saved))
		return "", err
	}
	return saved, nil
}

// decoyEnvelope is the optional JSON wrapper of a decoy upload. Short and
// long field names are both accepted.
type decoyEnvelope struct {
	N    string `json:"n"`
	Name string `json:"name"`
	D    string `json:"d"`
	Data string `json:"data"`
}

// DecoyResult is the terse acknowledgement of a decoy upload.
type DecoyResult struct {
	OK   bool   `json:"ok"`
	ID   string `json:"id,omitempty"`
	Size int    `json:"sz,omitempty"`
}

// DecoyUpload stores a body sent under a decoy token or an unknown verb.
// A JSON envelope {"n": name, "d": base64 data} is unwrapped; anything else
// is stored raw under a content-derived name.
func (h *Handlers) DecoyUpload(req *wire.Request) (*wire.Response, error) {
	if !req.HasBody() {
		resp := wire.NewResponse(400)
		resp.SetText("", "text/plain")
		return resp, nil
	}

	name, data := unwrapEnvelope(req.Body)
	if name == "" {
		sum := sha256.Sum256(data)
		name = hex.EncodeToString(sum[:])[:12] + ".bin"
	}

	var b strings.Builder
	for _, r := range name {
		if r < 0x80 && (isASCIIAlnum(byte(r)) || strings.ContainsRune("._-", r)) {
			b.WriteRune(r)
		}
	}
	safe := b.String()
	for strings.Contains(safe, "..") {
		safe = strings.ReplaceAll(safe, "..", ".")
	}
	if safe == "" || safe == "." {
		safe = "upload_" + randomHex(6)
	}

	saved, err := h.writeUpload(safe, data)
	if err != nil {
		logging.Warn("Decoy upload failed", zap.Error(err))
		return jsonResponse(500, DecoyResult{OK: false})
	}

	id := sha256.Sum256([]byte(saved))
	return jsonResponse(200, DecoyResult{
		OK:   true,
		ID:   hex.EncodeToString(id[:])[:16],
		Size: len(data),
	})
}

func unwrapEnvelope(body []byte) (string, []byte) {
	var env decoyEnvelope
	if err := sonnet.Unmarshal(body, &env); err != nil {
		return "", body
	}
	name := env.N
	if name == "" {
		name = env.Name
	}
	encoded := env.D
	if encoded == "" {
		encoded = env.Data
	}
	if encoded == "" {
		return name, body
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return name, body
	}
	return name, data
}

func isASCIIAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
