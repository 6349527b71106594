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

type serviceInfo struct {
	name     string
	category string
}

// wellKnown maps ports to their conventional service and a coarse
// category for the report's grouping.
var wellKnown = map[uint16]serviceInfo{
	21:    {"ftp", "file-transfer"},
	22:    {"ssh", "remote-access"},
	23:    {"telnet", "remote-access"},
	25:    {"smtp", "mail"},
	53:    {"dns", "infrastructure"},
	80:    {"http", "web"},
	110:   {"pop3", "mail"},
	111:   {"rpcbind", "infrastructure"},
	123:   {"ntp", "infrastructure"},
	135:   {"msrpc", "windows"},
	139:   {"netbios-ssn", "windows"},
	143:   {"imap", "mail"},
	161:   {"snmp", "infrastructure"},
	389:   {"ldap", "directory"},
	443:   {"https", "web"},
	445:   {"smb", "windows"},
	465:   {"smtps", "mail"},
	587:   {"submission", "mail"},
	636:   {"ldaps", "directory"},
	993:   {"imaps", "mail"},
	995:   {"pop3s", "mail"},
	1433:  {"mssql", "database"},
	1521:  {"oracle", "database"},
	1723:  {"pptp", "vpn"},
	2049:  {"nfs", "file-transfer"},
	3128:  {"http-proxy", "web"},
	3306:  {"mysql", "database"},
	3389:  {"rdp", "remote-access"},
	5060:  {"sip", "voip"},
	5432:  {"postgresql", "database"},
	5900:  {"vnc", "remote-access"},
	5985:  {"winrm", "remote-access"},
	6379:  {"redis", "database"},
	8080:  {"http-proxy", "web"},
	8443:  {"https-alt", "web"},
	9200:  {"elasticsearch", "database"},
	11211: {"memcached", "database"},
	27017: {"mongodb", "database"},
}

var serviceCategories = func() map[string]string {
	m := make(map[string]string, len(wellKnown))
	for _, info := range wellKnown {
		m[info.name] = info.category
	}

	// names detectService can produce beyond the port table
	m["http"] = "web"
	m["https"] = "web"

	return m
}()

// ServiceFor returns the conventional service name for a port, or "".
func ServiceFor(port uint16) string {
	return wellKnown[port].name
}

// CategoryFor returns the report category for a service name, or "".
func CategoryFor(service string) string {
	return serviceCategories[service]
}

// likelyTLS reports whether a port conventionally speaks TLS, which
// makes a certificate fetch worth attempting.
func likelyTLS(port uint16) bool {
	switch port {
	case 443, 465, 636, 993, 995, 8443:
		return true
	default:
		return false
	}
}

// serverTalksFirst reports whether the service greets before reading,
// so the banner grab should wait instead of sending a request.
func serverTalksFirst(service string) bool {
	switch service {
	case "ftp", "ssh", "telnet", "smtp", "submission", "pop3", "imap", "mysql":
		return true
	default:
		return false
	}
}

// detectService recognizes a service from its banner, overriding the
// port-number guess when they disagree.
func detectService(banner string) string {
	switch {
	case banner == "":
		return ""
	case strings.HasPrefix(banner, "SSH-"):
		return "ssh"
	case strings.HasPrefix(banner, "HTTP/"):
		return "http"
	case strings.HasPrefix(banner, "RFB "):
		return "vnc"
	case strings.HasPrefix(banner, "+OK"):
		return "pop3"
	case strings.HasPrefix(banner, "* OK"):
		return "imap"
	case strings.HasPrefix(banner, "220 "):
		upper := strings.ToUpper(banner)

		if strings.Contains(upper, "FTP") {
			return "ftp"
		}

		if strings.Contains(upper, "SMTP") || strings.Contains(upper, "ESMTP") {
			return "smtp"
		}

		return ""
	default:
		return ""
	}
}
