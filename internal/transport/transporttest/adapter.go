// Package transporttest provides an in-memory Adapter for tool tests.
package transporttest

import (
	"context"
	"fmt"
	"io"
	"sync"

	kit "toolbox/internal/transport"
)

// Sent is one outgoing text message.
type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

// Edit is one edit of an earlier message.
type Edit struct {
	Ref  kit.MessageRef
	Text string
	Opt  *kit.SendOptions
}

// File is one outgoing file with its body read out.
type File struct {
	To   kit.ChatTarget
	File kit.OutFile
	Body []byte
}

// Adapter records everything a tool sends. Files maps file ids to the bytes
// Download returns.
type Adapter struct {
	mu      sync.Mutex
	nextID  int
	texts   []Sent
	edits   []Edit
	answers []string
	files   []File
	// sends and edits in order
	log     []string

	Files map[string][]byte
}

func New() *Adapter { return &Adapter{Files: map[string][]byte{}} }

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.texts = append(a.texts, Sent{To: to, Text: text, Opt: opt})
	a.log = append(a.log, text)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, Edit{Ref: ref, Text: text, Opt: opt})
	a.log = append(a.log, text)
	return nil
}

func (a *Adapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, text)
	return nil
}

func (a *Adapter) SendFile(_ context.Context, to kit.ChatTarget, f kit.OutFile, _ *kit.SendOptions) (kit.MessageRef, error) {
	var body []byte
	if f.Reader != nil {
		b, err := io.ReadAll(f.Reader)
		if err != nil {
			return kit.MessageRef{}, err
		}
		body = b
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.files = append(a.files, File{To: to, File: f, Body: body})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: a.nextID}, nil
}

func (a *Adapter) Download(_ context.Context, fileID string, maxBytes int64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.Files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %q not found", fileID)
	}
	if maxBytes > 0 && int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("file %q is %d bytes, limit %d", fileID, len(b), maxBytes)
	}
	return append([]byte(nil), b...), nil
}

func (a *Adapter) Texts() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.texts...)
}

func (a *Adapter) Edits() []Edit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edit(nil), a.edits...)
}

func (a *Adapter) Answers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.answers...)
}

func (a *Adapter) SentFiles() []File {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]File(nil), a.files...)
}

// LastText is the most recent sent or edited text, "" when nothing was sent.
func (a *Adapter) LastText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.log) == 0 {
		return ""
	}
	return a.log[len(a.log)-1]
}
