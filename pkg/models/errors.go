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

import "errors"

// ErrConfig is the category every configuration-validation failure wraps.
// Callers can branch on it with errors.Is without enumerating specifics.
var ErrConfig = errors.New("invalid scan configuration")

var (
	ErrNoTargets            = errors.New("no scan targets provided")
	ErrNoPorts              = errors.New("no ports provided")
	ErrNoTechniques         = errors.New("no scan techniques selected")
	ErrUnknownTechnique     = errors.New("unknown scan technique")
	ErrUnknownMimicOS       = errors.New("unknown mimic OS")
	ErrUnknownMimicProtocol = errors.New("unknown mimic protocol payload")
	ErrTTLJitterRange       = errors.New("ttl jitter outside the 0-5 range")
	ErrInvalidTarget        = errors.New("target is not a valid IP address")
	ErrInvalidPort          = errors.New("port outside the 1-65535 range")
	ErrDuplicatePort        = errors.New("duplicate port in port set")
	ErrRawRequiresIPv4      = errors.New("raw-packet techniques require IPv4 targets")
	ErrBadConcurrency       = errors.New("concurrency must be positive")
	ErrBadRate              = errors.New("rate must be zero or positive")
)
