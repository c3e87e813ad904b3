// Package transport holds the chat-platform neutral types that tools and
// the router exchange with an adapter.
package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string // text, or caption for media
	IsGroup      bool

	Attachment *Attachment
}

// AttachmentKind classifies incoming media.
type AttachmentKind string

const (
	AttachVoice    AttachmentKind = "voice"
	AttachAudio    AttachmentKind = "audio"
	AttachPhoto    AttachmentKind = "photo"
	AttachDocument AttachmentKind = "document"
)

// Attachment references media that can be fetched with Adapter.Download.
type Attachment struct {
	Kind     AttachmentKind
	FileID   string
	FileName string
	MIME     string
	Size     int64
	Duration int // seconds, audio/voice only
}

// IsImage reports whether the attachment is a photo or an image document.
func (a *Attachment) IsImage() bool {
	if a == nil {
		return false
	}
	if a.Kind == AttachPhoto {
		return true
	}
	return a.Kind == AttachDocument && len(a.MIME) > 6 && a.MIME[:6] == "image/"
}

// IsAudio reports whether the attachment is a voice note or audio file.
func (a *Attachment) IsAudio() bool {
	return a != nil && (a.Kind == AttachVoice || a.Kind == AttachAudio)
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// FileKind selects how an outgoing file is presented.
type FileKind string

const (
	FileDocument FileKind = "document"
	FileAudio    FileKind = "audio"
)

// OutFile is a file sent to a chat.
type OutFile struct {
	Kind     FileKind
	Name     string
	MIME     string
	Caption  string
	Reader   io.Reader
	Duration int
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	SendFile(ctx context.Context, to ChatTarget, f OutFile, opt *SendOptions) (MessageRef, error)
	// Download fetches an attachment, refusing anything larger than maxBytes.
	Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
