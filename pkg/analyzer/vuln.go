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

package analyzer

import "strings"

// knownVulnerable pairs version strings that still show up in the wild
// with their headline CVE. Matching is substring-on-banner: coarse, but
// a note here is a pointer for triage, not a finding.
var knownVulnerable = []struct {
	marker string
	note   string
}{
	{"Apache/2.4.49", "CVE-2021-41773 path traversal and RCE"},
	{"Apache/2.4.50", "CVE-2021-42013 path traversal and RCE"},
	{"Microsoft-IIS/6.0", "CVE-2017-7269 WebDAV buffer overflow"},
	{"OpenSSH_7.2", "CVE-2016-6210 timing-based user enumeration"},
	{"ProFTPD 1.3.5", "CVE-2015-3306 mod_copy unauthenticated file copy"},
	{"vsFTPd 2.3.4", "backdoored release, remote shell on smiley login"},
	{"MiniUPnPd/1.0", "CVE-2013-0230 SSDP stack overflow"},
}

// vulnNotes matches a banner against the known-vulnerable table.
func vulnNotes(banner string) []string {
	if banner == "" {
		return nil
	}

	var notes []string

	for _, v := range knownVulnerable {
		if strings.Contains(banner, v.marker) {
			notes = append(notes, v.note)
		}
	}

	return notes
}
