// Package logx configures schedbot's structured logging.
//
// logx.Logger is a small wrapper on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional chat sink forwards WARN+ lines to a log chat (min-level + rate limited)
package logx
