package logging

import wailslogger "github.com/wailsapp/wails/v2/pkg/logger"

// WailsLogger routes the Wails runtime's own log output through the package logger
type WailsLogger struct{}

var _ wailslogger.Logger = WailsLogger{}

func (WailsLogger) Print(message string)   { Info(message, "source", "wails") }
func (WailsLogger) Trace(message string)   { Debug(message, "source", "wails") }
func (WailsLogger) Debug(message string)   { Debug(message, "source", "wails") }
func (WailsLogger) Info(message string)    { Info(message, "source", "wails") }
func (WailsLogger) Warning(message string) { Warn(message, "source", "wails") }
func (WailsLogger) Error(message string)   { Error(message, "source", "wails") }

// Fatal logs at error level; the Wails runtime exits on its own after calling it
func (WailsLogger) Fatal(message string) { Error(message, "source", "wails", "fatal", true) }
