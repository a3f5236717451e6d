package netmon

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/rennerdo30/heimdall/internal/util"
)

// Prober confirms end-to-end connectivity from a given source address.
type Prober interface {
	Probe(ctx context.Context, source netip.Addr) error
}

// DNSProber validates connectivity by resolving a well-known name against
// public DNS servers, binding the query socket to the candidate network's
// source address so the answer proves that specific path works.
type DNSProber struct {
	// Targets lists DNS servers as host:port.
	Targets []string

	// Timeout bounds a single query.
	Timeout time.Duration

	// Question is the name resolved; defaults to a stable public name.
	Question string
}

// NewDNSProber creates a prober for the given servers.
func NewDNSProber(targets []string, timeout time.Duration) *DNSProber {
	return &DNSProber{
		Targets: targets,
		Timeout: timeout,
	}
}

// Probe queries each target in order and returns nil on the first answer.
func (p *DNSProber) Probe(ctx context.Context, source netip.Addr) error {
	if len(p.Targets) == 0 {
		return util.WrapError(util.ErrInvalidConfig, "no probe targets")
	}

	question := p.Question
	if question == "" {
		question = "dns.google"
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(question), dns.TypeA)
	m.RecursionDesired = true

	client := &dns.Client{
		Timeout: p.Timeout,
	}
	if source.IsValid() && !source.IsUnspecified() {
		client.Dialer = &net.Dialer{
			Timeout:   p.Timeout,
			LocalAddr: &net.UDPAddr{IP: source.AsSlice()},
		}
	}

	var lastErr error
	for _, target := range p.Targets {
		resp, _, err := client.ExchangeContext(ctx, m, target)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("probe %s: rcode %s", target, dns.RcodeToString[resp.Rcode])
			continue
		}
		return nil
	}

	return util.WrapError(lastErr, "all probe targets failed")
}
