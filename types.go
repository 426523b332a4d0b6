package hashiru

import (
	"encoding/json"
	"fmt"
)

// Message roles. The conversation is a flat list of Messages; function_call
// and tool messages carry a serialized ModelContent in Content instead of
// display text.
const (
	RoleUser         = "user"
	RoleAssistant    = "assistant"
	RoleTool         = "tool"
	RoleFunctionCall = "function_call"
	RoleMemories     = "memories"
)

// Thinking-bubble statuses for Metadata.Status.
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// Metadata marks an assistant Message as a UI-only thinking bubble.
// Messages carrying Metadata are skipped when formatting backend history.
type Metadata struct {
	Title  string `json:"title"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}

// Message is one entry in a conversation. Messages are append-only: edits
// truncate the conversation and append new entries, never mutate in place.
type Message struct {
	Role     string    `json:"role"`
	Content  string    `json:"content"`
	File     string    `json:"file,omitempty"` // path of an attached file on user messages
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Snapshot is a point-in-time copy of the conversation, emitted on the
// orchestrator's channel after every state change (streamed text, tool
// dispatch progress, committed messages).
type Snapshot []Message

// FunctionCall is a single tool or agent invocation emitted by the backend.
// Args stays raw JSON so argument order survives the round trip.
type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FunctionResponse pairs a call name with its structured result.
type FunctionResponse struct {
	Name     string     `json:"name"`
	Response ToolResult `json:"response"`
}

// Usage tracks token counts for one backend round.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- ModelContent: the stable serialized form of backend-native content ---

// ModelContent roles, following the Gemini wire convention.
const (
	ContentRoleUser  = "user"
	ContentRoleModel = "model"
	ContentRoleTool  = "tool"
)

// ModelContent is a backend-neutral content block: a role plus an ordered
// list of parts. function_call and tool Messages store one of these,
// JSON-encoded, in Message.Content.
type ModelContent struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a tagged union: exactly one field is non-zero.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	Bytes            *BytesPart        `json:"bytes,omitempty"`
}

// BytesPart carries binary content (user file attachments) with its MIME type.
type BytesPart struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// TextPart builds a text Part.
func TextPart(text string) Part { return Part{Text: text} }

// CallPart builds a function-call Part.
func CallPart(call FunctionCall) Part { return Part{FunctionCall: &call} }

// ResponsePart builds a function-response Part.
func ResponsePart(name string, result ToolResult) Part {
	return Part{FunctionResponse: &FunctionResponse{Name: name, Response: result}}
}

// EncodeContent serializes a ModelContent for storage in Message.Content.
func EncodeContent(c ModelContent) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(data), nil
}

// DecodeContent parses a ModelContent previously produced by EncodeContent.
// Parts with zero or multiple tag fields are rejected.
func DecodeContent(s string) (ModelContent, error) {
	var c ModelContent
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return ModelContent{}, fmt.Errorf("decode content: %w", err)
	}
	for i, p := range c.Parts {
		n := 0
		if p.Text != "" {
			n++
		}
		if p.FunctionCall != nil {
			n++
		}
		if p.FunctionResponse != nil {
			n++
		}
		if p.Bytes != nil {
			n++
		}
		if n != 1 {
			return ModelContent{}, fmt.Errorf("decode content: part %d has %d tags, want 1", i, n)
		}
	}
	return c, nil
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ThinkingMessage builds a UI-only assistant bubble. It is skipped during
// history formatting.
func ThinkingMessage(title, content, id, status string) Message {
	return Message{
		Role:     RoleAssistant,
		Content:  content,
		Metadata: &Metadata{Title: title, ID: id, Status: status},
	}
}

// FunctionCallMessage stores the backend's raw content for later replay.
func FunctionCallMessage(c ModelContent) (Message, error) {
	enc, err := EncodeContent(c)
	if err != nil {
		return Message{}, err
	}
	return Message{Role: RoleFunctionCall, Content: enc}, nil
}

// ToolMessage stores an ordered batch of function responses.
func ToolMessage(responses []FunctionResponse) (Message, error) {
	parts := make([]Part, len(responses))
	for i, r := range responses {
		resp := r
		parts[i] = Part{FunctionResponse: &resp}
	}
	enc, err := EncodeContent(ModelContent{Role: RoleTool, Parts: parts})
	if err != nil {
		return Message{}, err
	}
	return Message{Role: RoleTool, Content: enc}, nil
}

// MemoriesMessage stores retrieved memories as a serialized list.
func MemoriesMessage(records []MemoryRecord) (Message, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return Message{}, fmt.Errorf("encode memories: %w", err)
	}
	return Message{Role: RoleMemories, Content: string(data)}, nil
}

// CloneConversation deep-copies a conversation so snapshots do not share
// Metadata pointers with the live slice.
func CloneConversation(msgs []Message) Snapshot {
	out := make(Snapshot, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Metadata != nil {
			md := *m.Metadata
			out[i].Metadata = &md
		}
	}
	return out
}
