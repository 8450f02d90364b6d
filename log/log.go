// Copyright 2024 The daosync Authors
// This file is part of the daosync library.
//
// The daosync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The daosync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the daosync library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ModuleID identifies the subsystem a logger belongs to. Every log line
// carries the module name so operators can filter a single pipeline.
type ModuleID int

const (
	ChainClient ModuleID = iota
	Storage
	Fetcher
	Cache
	EventBroker
	Metadata
	API
	Cmd
)

var moduleNames = map[ModuleID]string{
	ChainClient: "chain",
	Storage:     "storage",
	Fetcher:     "fetcher",
	Cache:       "cache",
	EventBroker: "event",
	Metadata:    "metadata",
	API:         "api",
	Cmd:         "cmd",
}

// Logger is the logging interface used across the library. Context is
// passed as alternating key/value pairs.
type Logger interface {
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	// Crit logs the message and terminates the process.
	Crit(msg string, ctx ...interface{})
}

var (
	baseMu   sync.Mutex
	baseOnce sync.Once
	base     *zap.SugaredLogger
)

func baseLogger() *zap.SugaredLogger {
	baseOnce.Do(func() {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			zap.NewAtomicLevelAt(zapcore.DebugLevel),
		)
		base = zap.New(core).Sugar()
	})
	return base
}

// SetBaseLogger overrides the process-wide logger. Intended for tests.
func SetBaseLogger(l *zap.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	baseOnce.Do(func() {})
	base = l.Sugar()
}

// NewModuleLogger returns a logger tagged with the given module name.
func NewModuleLogger(id ModuleID) Logger {
	name, ok := moduleNames[id]
	if !ok {
		name = "unknown"
	}
	return &moduleLogger{sugar: baseLogger().With("module", name)}
}

type moduleLogger struct {
	sugar *zap.SugaredLogger
}

func (l *moduleLogger) Debug(msg string, ctx ...interface{}) { l.sugar.Debugw(msg, ctx...) }
func (l *moduleLogger) Info(msg string, ctx ...interface{})  { l.sugar.Infow(msg, ctx...) }
func (l *moduleLogger) Warn(msg string, ctx ...interface{})  { l.sugar.Warnw(msg, ctx...) }
func (l *moduleLogger) Error(msg string, ctx ...interface{}) { l.sugar.Errorw(msg, ctx...) }
func (l *moduleLogger) Crit(msg string, ctx ...interface{})  { l.sugar.Fatalw(msg, ctx...) }
