package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

const maxTitleLength = 200

var noteIDPattern = regexp.MustCompile(`^[a-f0-9]{1,32}$`)

var (
	// ErrInvalidNoteID is returned for ids that are not 1-32 lowercase hex digits.
	ErrInvalidNoteID = errors.New("invalid note ID")

	// ErrNoteNotFound is returned when no blob exists for an id.
	ErrNoteNotFound = errors.New("note not found")
)

// noteError is a client mistake reported with a specific status.
type noteError struct {
	status int
	msg    string
}

func (e *noteError) Error() string { return e.msg }

func badNote(msg string) error { return &noteError{status: 400, msg: msg} }

// NoteMeta is the sidecar stored next to each blob.
type NoteMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Size      int    `json:"size"`
	Session   bool   `json:"session,omitempty"`
}

// Note is a loaded note: metadata plus the base64 blob.
type Note struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Data      string `json:"data"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Size      int    `json:"size"`
}

// SaveInput is a create (empty ID) or update request.
type SaveInput struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Data      string `json:"data"` // base64 of the encrypted blob
	SessionID string `json:"-"`
}

// NoteStore keeps opaque note blobs as {id}.enc with a {id}.meta.json
// sidecar. The server never interprets the blob.
type NoteStore struct {
	dir string
	mu  sync.Mutex
}

// NewNoteStore creates dir if needed.
func NewNoteStore(dir string) (*NoteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes directory: %w", err)
	}
	return &NoteStore{dir: dir}, nil
}

func (s *NoteStore) paths(id string) (string, string, error) {
	if !noteIDPattern.MatchString(id) {
		return "", "", ErrInvalidNoteID
	}
	return filepath.Join(s.dir, id+".enc"), filepath.Join(s.dir, id+".meta.json"), nil
}

// Save creates or updates a note. created reports whether a new id was
// assigned. Updates keep the original creation time.
func (s *NoteStore) Save(in SaveInput) (meta NoteMeta, created bool, err error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return meta, false, badNote("Missing or empty 'title'")
	}
	if in.Data == "" {
		return meta, false, badNote("Missing 'data' (base64-encoded encrypted blob)")
	}
	raw, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return meta, false, badNote("Invalid base64 in 'data'")
	}
	if len(raw) == 0 {
		return meta, false, badNote("Empty encrypted data")
	}
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := in.ID
	if id == "" {
		id = randomHex(16)
		created = true
	}
	encPath, metaPath, err := s.paths(id)
	if err != nil {
		return meta, false, badNote("Invalid note ID format")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	meta = NoteMeta{ID: id, Title: title, CreatedAt: now, UpdatedAt: now, Size: len(raw), Session: in.SessionID != ""}

	if !created {
		if _, err := os.Stat(encPath); err != nil {
			return NoteMeta{}, false, &noteError{status: 404, msg: "Note not found for update"}
		}
		if prev, err := readMeta(metaPath); err == nil && prev.CreatedAt != "" {
			meta.CreatedAt = prev.CreatedAt
		}
	}

	metaJSON, err := sonnet.Marshal(meta)
	if err != nil {
		return NoteMeta{}, false, err
	}
	if err := os.WriteFile(encPath, raw, 0o600); err != nil {
		return NoteMeta{}, false, fmt.Errorf("write note blob: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0o600); err != nil {
		return NoteMeta{}, false, fmt.Errorf("write note metadata: %w", err)
	}

	logging.Debug("Note saved", zap.String("id", id), zap.Int("size", len(raw)))
	return meta, created, nil
}

// List returns every note's metadata, most recently updated first.
// Unreadable sidecars are skipped.
func (s *NoteStore) List() ([]NoteMeta, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.meta.json"))
	if err != nil {
		return nil, err
	}
	notes := make([]NoteMeta, 0, len(matches))
	for _, m := range matches {
		meta, err := readMeta(m)
		if err != nil || meta.ID == "" {
			continue
		}
		meta.Session = false
		notes = append(notes, meta)
	}
	sort.SliceStable(notes, func(i, j int) bool {
		return updatedAt(notes[i]).After(updatedAt(notes[j]))
	})
	return notes, nil
}

// Load returns a note with its blob base64-encoded.
func (s *NoteStore) Load(id string) (*Note, error) {
	encPath, metaPath, err := s.paths(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(encPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}

	note := &Note{ID: id, Data: base64.StdEncoding.EncodeToString(raw), Size: len(raw)}
	if meta, err := readMeta(metaPath); err == nil {
		note.Title = meta.Title
		note.CreatedAt = meta.CreatedAt
		note.UpdatedAt = meta.UpdatedAt
	}
	return note, nil
}

// Delete removes a note's blob and sidecar.
func (s *NoteStore) Delete(id string) error {
	encPath, metaPath, err := s.paths(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(encPath); err != nil {
		return ErrNoteNotFound
	}
	if err := os.Remove(encPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete note: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete note metadata: %w", err)
	}
	logging.Debug("Note deleted", zap.String("id", id))
	return nil
}

func readMeta(path string) (NoteMeta, error) {
	var meta NoteMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	err = sonnet.Unmarshal(data, &meta)
	return meta, err
}

func updatedAt(m NoteMeta) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, m.UpdatedAt)
	return t
}

// noteStatus maps a store error to an HTTP status and client message.
func noteStatus(err error) (int, string) {
	var ne *noteError
	switch {
	case errors.As(err, &ne):
		return ne.status, ne.msg
	case errors.Is(err, ErrInvalidNoteID):
		return 400, "Invalid note ID"
	case errors.Is(err, ErrNoteNotFound):
		return 404, "Note not found"
	default:
		return 500, "Failed to access note storage"
	}
}

// NoteList is the body of a list operation.
type NoteList struct {
	Notes []NoteMeta `json:"notes"`
	Count int        `json:"count"`
}

// SavedNote acknowledges a save.
type SavedNote struct {
	Success   bool   `json:"success"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Size      int    `json:"size"`
}

func savedNote(m NoteMeta) SavedNote {
	return SavedNote{Success: true, ID: m.ID, Title: m.Title, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, Size: m.Size}
}

// Note routes NOTE requests:
//
//	/notes/key          key exchange capability
//	/notes/exchange     key exchange (not available)
//	/notes + body       save
//	/notes, /notes?list list
//	/notes/{id}         load
//	/notes/{id}?delete  delete
func (h *Handlers) Note(req *wire.Request) (*wire.Response, error) {
	clean := strings.TrimLeft(req.Path, "/")

	switch {
	case clean == "notes/key":
		return jsonResponse(200, map[string]bool{"hasEcdh": false})
	case clean == "notes/exchange":
		return wire.ErrorResponse(501, "ECDH key exchange not available"), nil
	case clean == "notes" || clean == "notes/":
		if _, list := req.Query["list"]; list || !req.HasBody() {
			return h.noteList()
		}
		return h.noteSave(req)
	case strings.HasPrefix(clean, "notes/"):
		id := strings.TrimPrefix(clean, "notes/")
		if !noteIDPattern.MatchString(id) {
			return wire.ErrorResponse(400, "Invalid note ID"), nil
		}
		if _, del := req.Query["delete"]; del {
			if err := h.notes.Delete(id); err != nil {
				return noteErrorResponse(err), nil
			}
			return jsonResponse(200, map[string]any{"success": true, "id": id})
		}
		note, err := h.notes.Load(id)
		if err != nil {
			return noteErrorResponse(err), nil
		}
		return jsonResponse(200, note)
	}
	return wire.ErrorResponse(400, "Invalid notepad path"), nil
}

func (h *Handlers) noteList() (*wire.Response, error) {
	notes, err := h.notes.List()
	if err != nil {
		return noteErrorResponse(err), nil
	}
	return jsonResponse(200, NoteList{Notes: notes, Count: len(notes)})
}

func (h *Handlers) noteSave(req *wire.Request) (*wire.Response, error) {
	var in SaveInput
	if err := sonnet.Unmarshal(req.Body, &in); err != nil {
		return wire.ErrorResponse(400, "Invalid JSON body"), nil
	}
	in.SessionID = req.Header("X-Session-Id")

	meta, created, err := h.notes.Save(in)
	if err != nil {
		return noteErrorResponse(err), nil
	}
	status := 200
	if created {
		status = 201
	}
	return jsonResponse(status, savedNote(meta))
}

func noteErrorResponse(err error) *wire.Response {
	status, msg := noteStatus(err)
	if status == 500 {
		logging.Error("Note storage failure", zap.Error(err))
	}
	return wire.ErrorResponse(status, msg)
}
