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

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	spoolActiveSuffix = ".jsonl.open"
	spoolReadySuffix  = ".jsonl"
)

// SpoolRecord is one line of a spool file.
type SpoolRecord struct {
	Kind      string            `json:"kind"`
	SpooledAt time.Time         `json:"spooledAt"`
	Event     *Event            `json:"event,omitempty"`
	Session   *OversightSession `json:"session,omitempty"`
}

const (
	SpoolKindEvent   = "event"
	SpoolKindSession = "oversight_session"
)

// Spool appends records to a local JSONL file. The active file carries an
// ".open" suffix until Rotate seals it for shipping.
type Spool struct {
	dir  string
	mu   sync.Mutex
	file *os.File
	path string
	now  func() time.Time
}

func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &Spool{dir: dir, now: time.Now}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

func (s *Spool) AppendEvent(e *Event) error {
	return s.append(SpoolRecord{Kind: SpoolKindEvent, Event: e})
}

func (s *Spool) AppendSession(session *OversightSession) error {
	return s.append(SpoolRecord{Kind: SpoolKindSession, Session: session})
}

func (s *Spool) append(rec SpoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.SpooledAt = s.now().UTC()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode spool record: %w", err)
	}

	if s.file == nil {
		name := fmt.Sprintf("audit-%s%s", s.now().UTC().Format("20060102T150405.000000000"), spoolActiveSuffix)
		s.path = filepath.Join(s.dir, name)
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open spool file: %w", err)
		}
		s.file = f
	}

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write spool record: %w", err)
	}
	return s.file.Sync()
}

// Rotate seals the active file and returns its path, or "" if nothing was spooled.
func (s *Spool) Rotate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return "", nil
	}
	if err := s.file.Close(); err != nil {
		return "", fmt.Errorf("failed to close spool file: %w", err)
	}
	ready := strings.TrimSuffix(s.path, spoolActiveSuffix) + spoolReadySuffix
	if err := os.Rename(s.path, ready); err != nil {
		return "", fmt.Errorf("failed to seal spool file: %w", err)
	}
	s.file, s.path = nil, ""
	return ready, nil
}

// Ready lists sealed spool files, oldest first.
func (s *Spool) Ready() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "audit-*"+spoolReadySuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Close seals the active file.
func (s *Spool) Close() error {
	_, err := s.Rotate()
	return err
}

// ReadSpoolFile decodes every record of a spool file.
func ReadSpoolFile(path string) ([]SpoolRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var records []SpoolRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec SpoolRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("corrupt spool record in %s: %w", filepath.Base(path), err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
