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

package scan

import (
	"fmt"
	"sync"

	"github.com/hamb0n-3/quantum-scanner/pkg/models"
)

// Verdict is one probe attempt's classification. Conclusive verdicts are
// final: the scheduler never retries them. An inconclusive verdict after
// a fresh attempt triggers exactly one retry; after the retry it stands
// as the recorded state.
type Verdict struct {
	State      models.PortState
	Conclusive bool
	Reason     string
}

// Rule classifies one technique's replies.
type Rule interface {
	Classify(probe *models.Probe, reply *models.Reply) Verdict
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(*models.Probe, *models.Reply) Verdict

// Classify implements Rule.
func (f RuleFunc) Classify(p *models.Probe, r *models.Reply) Verdict {
	return f(p, r)
}

// Classifier maps techniques to their classification rules. New
// techniques plug in through Register; the scheduler and aggregator
// never switch on technique themselves.
type Classifier struct {
	mu    sync.RWMutex
	rules map[models.Technique]Rule
}

// NewClassifier builds the classifier with the standard rule table. The
// mimic and frag techniques answer like SYN probes on the wire, so they
// share its rule.
func NewClassifier() *Classifier {
	c := &Classifier{rules: make(map[models.Technique]Rule)}

	syn := RuleFunc(classifySYN)
	stealth := RuleFunc(classifyStealth)
	stream := RuleFunc(classifyStream)

	c.rules[models.TechSYN] = syn
	c.rules[models.TechMimic] = syn
	c.rules[models.TechFrag] = syn
	c.rules[models.TechACK] = RuleFunc(classifyACK)
	c.rules[models.TechFIN] = stealth
	c.rules[models.TechXmas] = stealth
	c.rules[models.TechNull] = stealth
	c.rules[models.TechWindow] = RuleFunc(classifyWindow)
	c.rules[models.TechUDP] = RuleFunc(classifyUDP)
	c.rules[models.TechSSL] = stream
	c.rules[models.TechTLSEcho] = stream

	return c
}

// Register installs or replaces the rule for a technique.
func (c *Classifier) Register(t models.Technique, r Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules[t] = r
}

// Classify resolves the probe's reply to a verdict.
func (c *Classifier) Classify(probe *models.Probe, reply *models.Reply) (Verdict, error) {
	c.mu.RLock()
	rule, ok := c.rules[probe.Technique]
	c.mu.RUnlock()

	if !ok {
		return Verdict{}, fmt.Errorf("%w: %s", ErrNoRule, probe.Technique)
	}

	return rule.Classify(probe, reply), nil
}

// classifySYN: SYN/ACK proves open, RST proves closed, and silence or an
// ICMP error means something in the path ate the probe.
func classifySYN(_ *models.Probe, r *models.Reply) Verdict {
	switch r.Kind {
	case models.ReplyTCP:
		switch {
		case r.Flags.SYN && r.Flags.ACK:
			return Verdict{State: models.StateOpen, Conclusive: true, Reason: "syn-ack"}
		case r.Flags.RST:
			return Verdict{State: models.StateClosed, Conclusive: true, Reason: "rst"}
		default:
			return Verdict{State: models.StateFiltered, Reason: "unexpected-flags"}
		}
	case models.ReplyICMP:
		return Verdict{State: models.StateFiltered, Conclusive: true, Reason: icmpReason(r)}
	case models.ReplyTimeout:
		return Verdict{State: models.StateFiltered, Reason: "no-response"}
	default:
		return Verdict{State: models.StateFiltered, Reason: "unexpected-reply"}
	}
}

// classifyACK distinguishes filtered from unfiltered only: any RST means
// the probe reached an unfiltered port, open or closed.
func classifyACK(_ *models.Probe, r *models.Reply) Verdict {
	switch r.Kind {
	case models.ReplyTCP:
		if r.Flags.RST {
			return Verdict{State: models.StateUnfiltered, Conclusive: true, Reason: "rst"}
		}

		return Verdict{State: models.StateFiltered, Reason: "unexpected-flags"}
	case models.ReplyICMP:
		return Verdict{State: models.StateFiltered, Conclusive: true, Reason: icmpReason(r)}
	default:
		return Verdict{State: models.StateFiltered, Reason: "no-response"}
	}
}

// classifyStealth covers FIN, Xmas and Null probes. Open ports ignore
// them, so silence is the open|filtered ambiguity made explicit rather
// than an error.
func classifyStealth(_ *models.Probe, r *models.Reply) Verdict {
	switch r.Kind {
	case models.ReplyTCP:
		if r.Flags.RST {
			return Verdict{State: models.StateClosed, Conclusive: true, Reason: "rst"}
		}

		return Verdict{State: models.StateFiltered, Reason: "unexpected-flags"}
	case models.ReplyICMP:
		return Verdict{State: models.StateFiltered, Conclusive: true, Reason: icmpReason(r)}
	case models.ReplyTimeout:
		return Verdict{State: models.StateOpenFiltered, Reason: "no-response"}
	default:
		return Verdict{State: models.StateFiltered, Reason: "unexpected-reply"}
	}
}

// classifyWindow reads the advertised window of the RST an ACK probe
// provokes: stacks that answer for an open port advertise a nonzero
// window.
func classifyWindow(_ *models.Probe, r *models.Reply) Verdict {
	switch r.Kind {
	case models.ReplyTCP:
		switch {
		case r.Flags.RST && r.Window > 0:
			return Verdict{State: models.StateOpen, Conclusive: true, Reason: "window-nonzero"}
		case r.Flags.RST:
			return Verdict{State: models.StateClosed, Conclusive: true, Reason: "window-zero"}
		default:
			return Verdict{State: models.StateFiltered, Reason: "unexpected-flags"}
		}
	case models.ReplyICMP:
		return Verdict{State: models.StateFiltered, Conclusive: true, Reason: icmpReason(r)}
	default:
		return Verdict{State: models.StateFiltered, Reason: "no-response"}
	}
}

// classifyUDP: an application reply proves open, ICMP port-unreachable
// proves closed, other ICMP errors prove filtering, and silence is the
// protocol's usual open|filtered ambiguity.
func classifyUDP(_ *models.Probe, r *models.Reply) Verdict {
	switch r.Kind {
	case models.ReplyUDP:
		return Verdict{State: models.StateOpen, Conclusive: true, Reason: "udp-response"}
	case models.ReplyICMP:
		if r.IsPortUnreachable() {
			return Verdict{State: models.StateClosed, Conclusive: true, Reason: "port-unreachable"}
		}

		return Verdict{State: models.StateFiltered, Conclusive: true, Reason: icmpReason(r)}
	case models.ReplyTimeout:
		return Verdict{State: models.StateOpenFiltered, Reason: "no-response"}
	default:
		return Verdict{State: models.StateFiltered, Reason: "unexpected-reply"}
	}
}

// classifyStream covers the connect-based techniques. A completed TCP
// connect proves open regardless of what the peer then speaks; a refused
// connect maps to closed and a connect timeout to filtered.
func classifyStream(_ *models.Probe, r *models.Reply) Verdict {
	switch r.Kind {
	case models.ReplyHandshake:
		switch {
		case r.Handshake != nil && r.Handshake.Complete:
			return Verdict{State: models.StateOpen, Conclusive: true, Reason: "tls-handshake"}
		case r.Handshake != nil && len(r.Handshake.Echoed) > 0:
			return Verdict{State: models.StateOpen, Conclusive: true, Reason: "tls-echo"}
		default:
			return Verdict{State: models.StateOpen, Conclusive: true, Reason: "tcp-connect"}
		}
	case models.ReplyTCP:
		if r.Flags.RST {
			return Verdict{State: models.StateClosed, Conclusive: true, Reason: "connection-refused"}
		}

		return Verdict{State: models.StateFiltered, Reason: "unexpected-flags"}
	case models.ReplyICMP:
		return Verdict{State: models.StateFiltered, Conclusive: true, Reason: icmpReason(r)}
	default:
		return Verdict{State: models.StateFiltered, Reason: "no-response"}
	}
}

func icmpReason(r *models.Reply) string {
	if r.IsPortUnreachable() {
		return "port-unreachable"
	}

	return fmt.Sprintf("icmp type %d code %d", r.ICMPType, r.ICMPCode)
}
