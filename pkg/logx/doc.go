// Package logx is feedbot's structured logging on top of zerolog.
//
// Console lines are human-readable, file lines are JSON, and warnings can
// be forwarded to a Telegram alert chat with a rate limit. Loggers handed
// out by a Service follow config reloads without being rebuilt.
package logx
