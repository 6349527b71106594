/*
 * Copyright 2025 Carver Automation Corporation.
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

package engine

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// JSONSink streams results as JSON lines and the report as a final JSON
// document to w. Writes are serialized; results arrive from many workers.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ Sink = (*JSONSink)(nil)

// NewJSONSink wraps w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// WriteResult emits one result as a JSON line.
func (s *JSONSink) WriteResult(_ context.Context, result *models.PortResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enc.Encode(result)
}

// WriteReport emits the final report.
func (s *JSONSink) WriteReport(_ context.Context, report *models.ScanReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enc.Encode(report)
}
