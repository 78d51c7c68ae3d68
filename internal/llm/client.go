// Package llm adapts hosted language-model providers to the two call modes
// the query engine needs: a code-execution call returning raw text and a
// structured call returning a JSON object.
//
// Every error leaving this package is an *Error whose Kind has already been
// decided; callers branch on KindOf and never inspect messages.
package llm

import (
	"context"
	"time"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
)

// FileRef points at a file hosted by the provider.
type FileRef struct {
	Name      string    `json:"name"`
	URI       string    `json:"uri"`
	MIMEType  string    `json:"mime_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Message is one turn of a structured request. File, when set, is attached
// to the turn as provider-side file context.
type Message struct {
	Role    Role
	Content string
	File    *FileRef
}

// Schema describes the object a structured call must return. Providers with
// native schema support use JSON; the rest append Instruction to the prompt.
type Schema struct {
	Name        string
	JSON        map[string]any
	Instruction string
}

// CodeExecutor runs a prompt with the provider's code-execution tool enabled.
// The returned text may be prose, a fenced JSON block, or tool-trace objects
// concatenated with the final answer.
type CodeExecutor interface {
	ExecuteCode(ctx context.Context, prompt string, file *FileRef) (string, error)
}

// StructuredGenerator requests a JSON object shaped by schema.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, messages []Message, schema Schema) (map[string]any, error)
}

// FileUploader hosts a local file with the provider.
type FileUploader interface {
	UploadFile(ctx context.Context, path, mimeType string) (FileRef, error)
}

// Client supports both call modes.
type Client interface {
	CodeExecutor
	StructuredGenerator
}
