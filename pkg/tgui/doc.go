// Package tgui builds Telegram HTML messages and inline keyboards for the
// tools, and packs button state into callback data of the form
// "plugin:action:payload".
package tgui
