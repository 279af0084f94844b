// Copyright 2025 AxonFlow
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

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line: %s", line)
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_InstanceID(t *testing.T) {
	t.Run("with instance ID set", func(t *testing.T) {
		t.Setenv("INSTANCE_ID", "instance-123")
		l := New("orchestrator")
		assert.Equal(t, "orchestrator", l.Component)
		assert.Equal(t, "instance-123", l.InstanceID)
		assert.NotEmpty(t, l.Container)
	})

	t.Run("without instance ID", func(t *testing.T) {
		t.Setenv("INSTANCE_ID", "")
		l := New("orchestrator")
		assert.Equal(t, "unknown", l.InstanceID)
	})
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"info", (*Logger).Info, INFO},
		{"error", (*Logger).Error, ERROR},
		{"warn", (*Logger).Warn, WARN},
		{"debug", (*Logger).Debug, DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewWithWriter("coordinator", &buf)

			tt.logFunc(l, "trace-1", "hello", map[string]interface{}{"provider": "local"})

			entries := decodeLines(t, &buf)
			require.Len(t, entries, 1)
			entry := entries[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, "coordinator", entry.Component)
			assert.Equal(t, "trace-1", entry.TraceID)
			assert.Equal(t, "hello", entry.Message)
			assert.Equal(t, "local", entry.Fields["provider"])

			_, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
			assert.NoError(t, err)
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("coordinator", &buf)

	l.InfoWithDuration("trace-2", "generated", 1500*time.Millisecond, nil)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.InDelta(t, 1500.0, entries[0].Fields["duration_ms"], 0.001)
}

func TestErrorWithCause(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("audit", &buf)

	l.ErrorWithCause("trace-3", "audit write failed", errors.New("connection refused"), map[string]interface{}{"op": "insert"})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, ERROR, entries[0].Level)
	assert.Equal(t, "connection refused", entries[0].Fields["error"])
	assert.Equal(t, "insert", entries[0].Fields["op"])
}

func TestTraceIDOmittedWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("registry", &buf)

	l.Info("", "refresh complete", nil)

	assert.NotContains(t, buf.String(), "trace_id")
	assert.NotContains(t, buf.String(), "fields")
}

func TestConcurrentWritesProduceWholeLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("coordinator", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Info("trace", "concurrent", map[string]interface{}{"k": "v"})
		}()
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 50)
}
