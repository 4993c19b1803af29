// Package uiproto defines the message protocol between the sync engine
// and the structured board UI.
//
// Every message is a tagged variant: an envelope carrying a Kind and a
// typed payload. Both directions of the channel use the same envelope.
// Decode switches exhaustively on Kind and rejects anything it does not
// know, so a protocol mismatch fails loudly at the boundary instead of
// surfacing as a half-understood payload deep in the engine.
package uiproto

import (
	"encoding/json"
	"fmt"
)

// Kind tags one message variant.
type Kind string

const (
	// KindEditingStarted reports a UI edit widget opening (UI → engine).
	KindEditingStarted Kind = "editingStarted"

	// KindEditingStoppedNormal reports a UI edit widget closing without a
	// commit (UI → engine).
	KindEditingStoppedNormal Kind = "editingStoppedNormal"

	// KindEditApplied reports a committed structured edit (UI → engine).
	KindEditApplied Kind = "editApplied"

	// KindEditorSaved reports the text editor saving the primary document
	// (UI → engine).
	KindEditorSaved Kind = "editorSaved"

	// KindEditorDirty reports the text editor's dirty flag (UI → engine).
	KindEditorDirty Kind = "editorDirty"

	// KindReloadRequested asks the engine for a full reload (UI → engine).
	KindReloadRequested Kind = "reloadRequested"

	// KindSaveRequested asks the engine to save the board (UI → engine).
	KindSaveRequested Kind = "saveRequested"

	// KindBoardUpdated tells the UI a file's content changed underneath it
	// (engine → UI).
	KindBoardUpdated Kind = "boardUpdated"

	// KindCaptureEditValue asks the UI for the live value of an open edit
	// widget (engine → UI).
	KindCaptureEditValue Kind = "captureEditValue"

	// KindCaptureEditValueResult answers a capture request (UI → engine).
	KindCaptureEditValueResult Kind = "captureEditValueResult"

	// KindConflictPrompt asks the user to resolve a conflict
	// (engine → UI).
	KindConflictPrompt Kind = "conflictPrompt"

	// KindConflictChoice answers a conflict prompt (UI → engine).
	KindConflictChoice Kind = "conflictChoice"
)

// Message is the closed set of protocol variants. Only types in this
// package implement it.
type Message interface {
	kind() Kind
}

// EditingStarted brackets the opening of an edit widget for a path.
type EditingStarted struct {
	Path string `json:"path"`
}

// EditingStoppedNormal brackets the normal close of an edit widget.
type EditingStoppedNormal struct {
	Path string `json:"path"`
}

// EditApplied carries a committed structured edit.
type EditApplied struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EditorSaved reports a save of the primary document at a version.
type EditorSaved struct {
	Version int64 `json:"version"`
}

// EditorDirty reports the editor's dirty flag for a path.
type EditorDirty struct {
	Path    string `json:"path"`
	Dirty   bool   `json:"dirty"`
	Version int64  `json:"version"`
}

// ReloadRequested asks for a full reload of the board.
type ReloadRequested struct{}

// SaveRequested asks for a save of the board.
type SaveRequested struct{}

// BoardUpdated tells the UI to refresh its view of a path.
type BoardUpdated struct {
	Path string `json:"path"`
}

// CaptureEditValue asks the UI for the live value of the edit widget
// open on Key. The UI answers with a CaptureEditValueResult carrying the
// same RequestID.
type CaptureEditValue struct {
	RequestID string `json:"requestId"`
	Key       string `json:"key"`
}

// CaptureEditValueResult answers a capture request. Present is false
// when no widget is open for the key; an empty Value with Present true
// is a real value (an edit that cleared the field).
type CaptureEditValueResult struct {
	RequestID string `json:"requestId"`
	Value     string `json:"value"`
	Present   bool   `json:"present"`
}

// ConflictPrompt asks the user to resolve a conflict on Path.
type ConflictPrompt struct {
	PromptID       string `json:"promptId"`
	Path           string `json:"path"`
	Role           string `json:"role"`
	Change         string `json:"change"`
	UnsavedInModel bool   `json:"unsavedInModel"`
	EditOpen       bool   `json:"editOpen"`
	DirtyInEditor  bool   `json:"dirtyInEditor"`
}

// Conflict choices carried by ConflictChoice.
const (
	ChoiceKeepMine            = "keep-mine"
	ChoiceTakeTheirs          = "take-theirs"
	ChoiceBackupAndTakeTheirs = "backup-and-take-theirs"
	ChoiceCancelled           = "cancelled"
)

// ConflictChoice answers a conflict prompt with one of the Choice*
// constants.
type ConflictChoice struct {
	PromptID string `json:"promptId"`
	Choice   string `json:"choice"`
}

func (EditingStarted) kind() Kind         { return KindEditingStarted }
func (EditingStoppedNormal) kind() Kind   { return KindEditingStoppedNormal }
func (EditApplied) kind() Kind            { return KindEditApplied }
func (EditorSaved) kind() Kind            { return KindEditorSaved }
func (EditorDirty) kind() Kind            { return KindEditorDirty }
func (ReloadRequested) kind() Kind        { return KindReloadRequested }
func (SaveRequested) kind() Kind          { return KindSaveRequested }
func (BoardUpdated) kind() Kind           { return KindBoardUpdated }
func (CaptureEditValue) kind() Kind       { return KindCaptureEditValue }
func (CaptureEditValueResult) kind() Kind { return KindCaptureEditValueResult }
func (ConflictPrompt) kind() Kind         { return KindConflictPrompt }
func (ConflictChoice) kind() Kind         { return KindConflictChoice }

// envelope is the wire form: kind plus the variant's own fields.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", m.kind(), err)
	}
	data, err := json.Marshal(envelope{Kind: m.kind(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", m.kind(), err)
	}
	return data, nil
}

// Decode deserializes one wire message. Unknown kinds are an error; the
// protocol is closed.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	decodeInto := func(m Message) (Message, error) {
		if len(env.Payload) == 0 {
			return m, nil
		}
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
		}
		return m, nil
	}

	switch env.Kind {
	case KindEditingStarted:
		return decodeInto(&EditingStarted{})
	case KindEditingStoppedNormal:
		return decodeInto(&EditingStoppedNormal{})
	case KindEditApplied:
		return decodeInto(&EditApplied{})
	case KindEditorSaved:
		return decodeInto(&EditorSaved{})
	case KindEditorDirty:
		return decodeInto(&EditorDirty{})
	case KindReloadRequested:
		return decodeInto(&ReloadRequested{})
	case KindSaveRequested:
		return decodeInto(&SaveRequested{})
	case KindBoardUpdated:
		return decodeInto(&BoardUpdated{})
	case KindCaptureEditValue:
		return decodeInto(&CaptureEditValue{})
	case KindCaptureEditValueResult:
		return decodeInto(&CaptureEditValueResult{})
	case KindConflictPrompt:
		return decodeInto(&ConflictPrompt{})
	case KindConflictChoice:
		return decodeInto(&ConflictChoice{})
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}
}
