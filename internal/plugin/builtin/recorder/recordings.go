package recorder

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	core "toolbox/internal/plugin"
	"toolbox/internal/storage"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
)

// Recording is one saved capture. Data is a base64 data URI.
type Recording struct {
	Name      string `json:"name"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
	Duration  int    `json:"duration,omitempty"`
}

func dataURI(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func parseDataURI(s string) (mime string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, toolerr.Decode("recording is not a data URI", nil)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	mime, isB64 := strings.CutSuffix(meta, ";base64")
	if !ok || !isB64 {
		return "", nil, toolerr.Decode("recording is not base64 encoded", nil)
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, toolerr.Decode("recording data is corrupt", err)
	}
	return mime, data, nil
}

func defaultName(t time.Time) string {
	return "recording_" + t.UTC().Format("2006-01-02T15-04-05")
}

var extensions = map[string]string{
	"audio/ogg":  ".ogg",
	"audio/opus": ".opus",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/aac":  ".aac",
	"audio/wav":  ".wav",
	"audio/webm": ".webm",
	"audio/flac": ".flac",
}

func extension(name string) string { return path.Ext(name) }

func fileNameFor(name, mime string) string {
	ext, ok := extensions[mime]
	if !ok {
		ext = ".ogg"
	}
	if strings.EqualFold(extension(name), ext) {
		return name
	}
	return name + ext
}

func formatKB(n int64) string { return fmt.Sprintf("%.2f KB", float64(n)/1024) }

func formatDuration(sec int) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// copyText is the head of the data URI plus the decoded size.
func copyText(r storage.Record[Recording]) string {
	head := r.Payload.Data
	if len(head) > 64 {
		head = head[:64] + "…"
	}
	size := base64.StdEncoding.DecodedLen(len(r.Payload.Data) - strings.IndexByte(r.Payload.Data, ',') - 1)
	return fmt.Sprintf("%s (%s)", head, formatKB(int64(size)))
}

func (p *Plugin) play(ctx context.Context, req *core.Request, r storage.Record[Recording]) error {
	mime, data, err := parseDataURI(r.Payload.Data)
	if err != nil {
		return err
	}
	_, err = req.Adapter.SendFile(ctx, req.Chat, kit.OutFile{
		Kind:     kit.FileAudio,
		Name:     fileNameFor(r.Payload.Name, mime),
		MIME:     mime,
		Caption:  r.Payload.Name,
		Reader:   bytes.NewReader(data),
		Duration: r.Payload.Duration,
	}, nil)
	if err != nil {
		return err
	}
	_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Sent below")
	return nil
}
