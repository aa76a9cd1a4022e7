package handlers

import (
	"github.com/sugawarayuuta/sonnet"
)

// socketMessage is an inbound notes message. Save carries Title, Data and
// an optional NoteID; load and delete carry ID.
type socketMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	NoteID    string `json:"noteId"`
	Title     string `json:"title"`
	Data      string `json:"data"`
	SessionID string `json:"sessionId"`
}

type savedReply struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Size      int    `json:"size"`
}

type loadedReply struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Data      string `json:"data"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Size      int    `json:"size"`
}

type listReply struct {
	Type  string     `json:"type"`
	Notes []NoteMeta `json:"notes"`
	Count int        `json:"count"`
}

type deletedReply struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// NotesSocket serves note operations over a WebSocket session. It
// implements websocket.MessageHandler; returned errors become
// {"type":"error"} replies.
type NotesSocket struct {
	Store *NoteStore
}

// HandleMessage decodes one JSON message and runs the requested operation.
func (s NotesSocket) HandleMessage(payload []byte) (any, error) {
	var msg socketMessage
	if err := sonnet.Unmarshal(payload, &msg); err != nil {
		return nil, clientMessage("Invalid JSON")
	}

	switch msg.Type {
	case "save":
		meta, _, err := s.Store.Save(SaveInput{
			ID:        msg.NoteID,
			Title:     msg.Title,
			Data:      msg.Data,
			SessionID: msg.SessionID,
		})
		if err != nil {
			return nil, clientError(err)
		}
		return savedReply{
			Type: "saved", Success: true, ID: meta.ID, Title: meta.Title,
			CreatedAt: meta.CreatedAt, UpdatedAt: meta.UpdatedAt, Size: meta.Size,
		}, nil

	case "load":
		note, err := s.Store.Load(msg.ID)
		if err != nil {
			return nil, clientError(err)
		}
		return loadedReply{
			Type: "loaded", ID: note.ID, Title: note.Title, Data: note.Data,
			CreatedAt: note.CreatedAt, UpdatedAt: note.UpdatedAt, Size: note.Size,
		}, nil

	case "list":
		notes, err := s.Store.List()
		if err != nil {
			return nil, clientError(err)
		}
		return listReply{Type: "list", Notes: notes, Count: len(notes)}, nil

	case "delete":
		if err := s.Store.Delete(msg.ID); err != nil {
			return nil, clientError(err)
		}
		return deletedReply{Type: "deleted", Success: true, ID: msg.ID}, nil
	}
	return nil, clientMessage("Unknown type: " + msg.Type)
}

// clientMessage is an error whose text is shown to the client verbatim.
type clientMessage string

func (m clientMessage) Error() string { return string(m) }

// clientError hides storage internals behind the same messages NOTE uses.
func clientError(err error) error {
	_, msg := noteStatus(err)
	return clientMessage(msg)
}
