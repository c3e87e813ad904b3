// Package logx is toolbox's structured logging wrapper around zerolog.
//
// Console output stays short (timestamp + file:line), the optional file sink
// is JSON, and warnings can be mirrored to an ops chat through a rate-limited
// Sender.
package logx
