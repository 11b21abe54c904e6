/*
 * Copyright 2026 The Quince Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"net/http"
	"time"

	"go.uber.org/zap/zapcore"
)

// HTTPLogLevel returns the severity a request with the given response status
// is logged at. Client mistakes are informational, refused credentials are
// worth a warning and server failures are errors.
func HTTPLogLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusTooManyRequests:
		return zapcore.WarnLevel
	case status >= http.StatusBadRequest:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// LogRequest logs a finished request at the level its status deserves.
func LogRequest(logger Logger, method, path string, status int, elapsed time.Duration) {
	level := HTTPLogLevel(status)
	if !Enabled(level) {
		return
	}

	args := []interface{}{
		"method", method,
		"path", path,
		"status", status,
		"elapsed", elapsed,
	}
	switch level {
	case zapcore.ErrorLevel:
		logger.Errorw("RPC : request failed", args...)
	case zapcore.WarnLevel:
		logger.Warnw("RPC : request refused", args...)
	case zapcore.InfoLevel:
		logger.Infow("RPC : request rejected", args...)
	default:
		logger.Debugw("RPC : request", args...)
	}
}
