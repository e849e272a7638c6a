// Package netgate decides whether the device may talk to the remote store.
//
// Syncing is allowed only on a trusted attachment: a WiFi network whose SSID
// is on the allow-list, or any wired Ethernet link when wired links are
// trusted. Everything else is the normal "wait" state and is not an error.
package netgate

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
)

// Status is a snapshot of the device's network attachment.
type Status struct {
	SSID        string `json:"ssid,omitempty"`
	WiFiActive  bool   `json:"wifi_active"`
	WiredActive bool   `json:"wired_active"`
}

// Policy lists the attachments that permit syncing.
type Policy struct {
	AllowedSSIDs []string `json:"allowed_ssids"`
	TrustWired   bool     `json:"trust_wired"`
}

// NewPolicy builds a policy, dropping empty SSIDs. SSIDs are kept verbatim:
// matching is exact and case-sensitive.
func NewPolicy(ssids []string, trustWired bool) Policy {
	allowed := make([]string, 0, len(ssids))
	for _, s := range ssids {
		if s == "" || slices.Contains(allowed, s) {
			continue
		}
		allowed = append(allowed, s)
	}
	return Policy{AllowedSSIDs: allowed, TrustWired: trustWired}
}

// AllowsSSID reports whether ssid is on the allow-list.
func (p Policy) AllowsSSID(ssid string) bool {
	return ssid != "" && slices.Contains(p.AllowedSSIDs, ssid)
}

// IsSyncAllowed reports whether status satisfies policy.
func IsSyncAllowed(status Status, policy Policy) bool {
	return Decide(status, policy).Allowed
}

// Decision is a gate answer with a short human-readable reason.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Status  Status `json:"status"`
}

// Decide evaluates policy against status. An allowed SSID wins over a
// trusted wired link when both are present.
func Decide(status Status, policy Policy) Decision {
	d := Decision{Status: status}
	switch {
	case status.WiFiActive && policy.AllowsSSID(status.SSID):
		d.Allowed = true
		d.Reason = "WiFi: " + status.SSID
	case status.WiredActive && policy.TrustWired:
		d.Allowed = true
		d.Reason = "Ethernet"
	case status.WiFiActive && status.SSID != "":
		d.Reason = "WiFi not allowed: " + status.SSID
	default:
		d.Reason = "No allowed connection"
	}
	return d
}

// StatusProvider reports the current network attachment. On error a
// provider may still return the link flags it did read.
type StatusProvider interface {
	Status(ctx context.Context) (Status, error)
}

// Gate binds a status provider to a policy.
type Gate struct {
	provider StatusProvider
	policy   Policy
	logger   *log.Logger
}

// New returns a gate. If logger is nil, a default logger writing to stderr
// is used.
func New(provider StatusProvider, policy Policy, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.New(os.Stderr, "[netgate] ", log.LstdFlags)
	}
	return &Gate{provider: provider, policy: policy, logger: logger}
}

// Policy returns the gate's policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Check queries the provider and decides. A provider failure is never
// returned as an error. The link flags of a partial status still count, so
// a trusted wired link allows syncing even when the SSID lookup failed; the
// unknown SSID never matches the allow-list.
func (g *Gate) Check(ctx context.Context) Decision {
	status, err := g.provider.Status(ctx)
	if err == nil {
		return Decide(status, g.policy)
	}

	g.logger.Printf("Network status unavailable: %v", err)
	status.SSID = ""
	d := Decide(status, g.policy)
	if !d.Allowed {
		d.Reason = fmt.Sprintf("Network status unavailable: %v", err)
	}
	return d
}
