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

package models

import "time"

// RiskLevel grades the exposure suggested by a scan's findings.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// TargetSummary condenses one target's outcome for the report.
type TargetSummary struct {
	Host      string   `json:"host"`
	OpenPorts []uint16 `json:"open_ports,omitempty"`
	OSGuess   string   `json:"os_guess,omitempty"`
}

// ScanReport is the final artifact of a run, handed to the configured
// sink once the result stream has drained. A cancelled run still yields a
// report; Incomplete marks it as partial.
type ScanReport struct {
	ScanID     string      `json:"scan_id"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	Techniques []Technique `json:"techniques"`

	Targets []TargetSummary `json:"targets"`
	Results []PortResult    `json:"results"`

	PacketsSent     int64 `json:"packets_sent"`
	RepliesReceived int64 `json:"replies_received"`
	OpenPorts       int   `json:"open_ports"`

	Risk RiskLevel `json:"risk_assessment"`

	// ServiceCategories groups identified endpoints ("host:port service")
	// by coarse category (web, database, remote-access, ...).
	ServiceCategories map[string][]string `json:"service_categories,omitempty"`

	Incomplete bool `json:"incomplete,omitempty"`
}

// Duration returns the wall-clock span of the run.
func (r *ScanReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// TopPorts returns the n most commonly exposed TCP ports (n is clamped to
// the known list). Convenience for callers assembling a ScanConfig.
func TopPorts(n int) []uint16 {
	if n > len(top100Ports) {
		n = len(top100Ports)
	}

	if n < 0 {
		n = 0
	}

	out := make([]uint16, n)
	copy(out, top100Ports[:n])

	return out
}

// Top10Ports returns the ten most commonly exposed TCP ports.
func Top10Ports() []uint16 {
	return []uint16{21, 22, 23, 25, 80, 110, 139, 443, 445, 3389}
}

var top100Ports = []uint16{
	80, 23, 443, 21, 22, 25, 3389, 110, 445, 139,
	143, 53, 135, 3306, 8080, 1723, 111, 995, 993, 5900,
	1025, 587, 8888, 199, 1720, 465, 548, 113, 81, 6001,
	10000, 514, 5060, 179, 1026, 2000, 8443, 8000, 32768, 554,
	26, 1433, 49152, 2001, 515, 8008, 49154, 1027, 5666, 646,
	5000, 5631, 631, 49153, 8081, 2049, 88, 79, 5800, 106,
	2121, 1110, 49155, 6000, 513, 990, 5357, 427, 49156, 543,
	544, 5101, 144, 7, 389, 8009, 3128, 444, 9999, 5009,
	7070, 5190, 3000, 5432, 1900, 3986, 13, 1029, 9, 5051,
	6646, 49157, 1028, 873, 1755, 2717, 4899, 9100, 119, 37,
}
