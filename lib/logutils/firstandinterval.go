// Copyright (c) 2025 Tigera, Inc. All rights reserved.

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutils

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	fieldLogSkipped = "logs-skipped"
	fieldLogNextLog = "next-log"
)

// NewFirstAndIntervalLogger returns a FirstAndIntervalLogger which can be
// used for interval logging of high-frequency events, such as per-object
// write conflicts during a migration pass.
//
// The first log is always processed.  Subsequent logs are only processed if
// at least the interval time has passed since the last processed log.
// Processed logs carry the number of skipped logs and the time of the next
// log.  Force() may be used to force the next log to be processed, typically
// for a final summary.  Sufficient log level is still required for a
// processed log to actually be written.
func NewFirstAndIntervalLogger(interval time.Duration, logger *logrus.Logger) *FirstAndIntervalLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FirstAndIntervalLogger{
		nextLog:  time.Now(),
		interval: interval,
		entry:    logrus.NewEntry(logger),
	}
}

type FirstAndIntervalLogger struct {
	nextLog  time.Time
	interval time.Duration

	// The logrus entry used for writing the log.
	entry *logrus.Entry

	// The number skipped since the last processed log.
	skipped int

	// Whether to force the next log to be processed.
	force bool

	// Lock used to access this data.  Never held while writing a log.
	lock sync.Mutex
}

func (logger *FirstAndIntervalLogger) logEntry() *logrus.Entry {
	now := time.Now()
	logger.lock.Lock()
	defer logger.lock.Unlock()
	if logger.force || now.Sub(logger.nextLog) >= 0 {
		nextLog := now.Add(logger.interval)
		entry := logger.entry.WithFields(logrus.Fields{
			fieldLogSkipped: logger.skipped,
			fieldLogNextLog: nextLog,
		})
		logger.force = false
		logger.nextLog = nextLog
		logger.skipped = 0
		return entry
	}
	logger.skipped++
	return nil
}

// Force forces the next log to be processed.  Note that this does not force
// the log to be written since that is also dependent on the logging level.
func (logger *FirstAndIntervalLogger) Force() *FirstAndIntervalLogger {
	logger.lock.Lock()
	defer logger.lock.Unlock()
	logger.force = true
	return logger
}

// WithError adds an error as a single field to the FirstAndIntervalLogger.
func (logger *FirstAndIntervalLogger) WithError(err error) *FirstAndIntervalLogger {
	logger.lock.Lock()
	defer logger.lock.Unlock()
	return &FirstAndIntervalLogger{
		nextLog:  logger.nextLog,
		interval: logger.interval,
		skipped:  logger.skipped,
		entry:    logger.entry.WithError(err),
	}
}

// WithField adds a single field to the FirstAndIntervalLogger.
func (logger *FirstAndIntervalLogger) WithField(key string, value interface{}) *FirstAndIntervalLogger {
	return logger.WithFields(logrus.Fields{key: value})
}

// WithFields adds a map of fields to the FirstAndIntervalLogger.
func (logger *FirstAndIntervalLogger) WithFields(fields logrus.Fields) *FirstAndIntervalLogger {
	logger.lock.Lock()
	defer logger.lock.Unlock()
	return &FirstAndIntervalLogger{
		nextLog:  logger.nextLog,
		interval: logger.interval,
		skipped:  logger.skipped,
		entry:    logger.entry.WithFields(fields),
	}
}

func (logger *FirstAndIntervalLogger) Debug(args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Debug(args...)
	}
}

func (logger *FirstAndIntervalLogger) Info(args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Info(args...)
	}
}

func (logger *FirstAndIntervalLogger) Warn(args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Warn(args...)
	}
}

func (logger *FirstAndIntervalLogger) Error(args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Error(args...)
	}
}

func (logger *FirstAndIntervalLogger) Debugf(format string, args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Debugf(format, args...)
	}
}

func (logger *FirstAndIntervalLogger) Infof(format string, args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Infof(format, args...)
	}
}

func (logger *FirstAndIntervalLogger) Warnf(format string, args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Warnf(format, args...)
	}
}

func (logger *FirstAndIntervalLogger) Errorf(format string, args ...interface{}) {
	if entry := logger.logEntry(); entry != nil {
		entry.Errorf(format, args...)
	}
}
