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

// Package archive ships sealed audit spool files to object storage
// (Amazon S3, Google Cloud Storage or Azure Blob Storage).
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
)

// Uploader stores one object.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Shipper rotates the spool and uploads every sealed file. A file is removed
// locally only after its upload succeeded.
type Shipper struct {
	spool    *audit.Spool
	uploader Uploader
	prefix   string
	host     string
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

type ShipperOption func(*Shipper)

func WithPrefix(prefix string) ShipperOption {
	return func(s *Shipper) { s.prefix = strings.Trim(prefix, "/") }
}

func WithInterval(d time.Duration) ShipperOption {
	return func(s *Shipper) { s.interval = d }
}

func WithLogger(logger *log.Logger) ShipperOption {
	return func(s *Shipper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewShipper(spool *audit.Spool, uploader Uploader, opts ...ShipperOption) *Shipper {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	s := &Shipper{
		spool:    spool,
		uploader: uploader,
		prefix:   "audit-spool",
		host:     host,
		interval: 5 * time.Minute,
		logger:   log.New(os.Stdout, "[AUDIT_ARCHIVE] ", log.LstdFlags),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObjectKey is prefix/YYYY/MM/DD/host-file.
func (s *Shipper) ObjectKey(file string) string {
	day := s.now().UTC().Format("2006/01/02")
	name := s.host + "-" + filepath.Base(file)
	if s.prefix == "" {
		return path.Join(day, name)
	}
	return path.Join(s.prefix, day, name)
}

// ShipOnce uploads all sealed spool files and returns how many were shipped.
func (s *Shipper) ShipOnce(ctx context.Context) (int, error) {
	if _, err := s.spool.Rotate(); err != nil {
		return 0, err
	}
	files, err := s.spool.Ready()
	if err != nil {
		return 0, fmt.Errorf("failed to list spool files: %w", err)
	}

	shipped := 0
	var errs []error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		body, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", filepath.Base(file), err))
			continue
		}
		key := s.ObjectKey(file)
		if err := s.uploader.Upload(ctx, key, body, "application/x-ndjson"); err != nil {
			errs = append(errs, fmt.Errorf("upload %s to %s: %w", filepath.Base(file), s.uploader.Name(), err))
			continue
		}
		if err := os.Remove(file); err != nil {
			s.logger.Printf("Shipped %s but could not remove it: %v", file, err)
		}
		s.logger.Printf("Shipped %s to %s/%s", filepath.Base(file), s.uploader.Name(), key)
		shipped++
	}
	return shipped, errors.Join(errs...)
}

// Run ships on every interval until ctx is cancelled, then makes a final
// attempt with a short deadline.
func (s *Shipper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.ShipOnce(finalCtx); err != nil {
				s.logger.Printf("Final spool shipment failed: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if _, err := s.ShipOnce(ctx); err != nil {
				s.logger.Printf("Spool shipment failed: %v", err)
			}
		}
	}
}
