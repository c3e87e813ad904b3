package tgui

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes, counted
// over the whole "plugin:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data joins callback parts. The payload is not escaped.
func Data(plugin, action, payload string) string {
	s := strings.TrimSpace(plugin) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	return s
}

// PackJSON encodes v as unpadded base64url JSON.
func PackJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func UnpackJSON(payload string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// ActionData packs v into callback data. JSON that does not fit is parked in
// store and the callback carries its "~" token; the token's bytes are the
// raw JSON. A nil store turns an oversized payload into
// ErrCallbackDataTooLong.
func ActionData(plugin, action string, v any, store *TokenStore) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	data := Data(plugin, action, base64.RawURLEncoding.EncodeToString(b))
	if len(data) <= MaxCallbackDataLen {
		return data, nil
	}
	if store == nil {
		return "", ErrCallbackDataTooLong
	}
	data = Data(plugin, action, store.PutBytes(b))
	if len(data) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return data, nil
}
