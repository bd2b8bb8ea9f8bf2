// Package lookup queries a DNSBL zone for A records through an explicit list
// of nameservers.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/miekg/dns"
)

var log = logging.Logger("dnsbl/lookup")

// DefaultTimeout bounds a single exchange with one nameserver.
const DefaultTimeout = 2 * time.Second

// DefaultNameservers is used when no list is configured. Some DNSBL operators
// refuse queries relayed by large public resolvers, so this should normally
// be overridden with a resolver the operator accepts.
var DefaultNameservers = []string{"208.67.222.222"}

// LookupError is a transient failure to get an answer for Name. It is never
// returned for NXDOMAIN, which means "not listed".
type LookupError struct {
	Name   string
	Server string
	Rcode  int // -1 when no response was received
	Err    error
}

func (e *LookupError) Error() string {
	if e.Rcode >= 0 {
		return fmt.Sprintf("lookup %s via %s: %s", e.Name, e.Server, dns.RcodeToString[e.Rcode])
	}
	return fmt.Sprintf("lookup %s via %s: %v", e.Name, e.Server, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *LookupError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Client issues type A queries for DNSBL names.
type Client struct {
	nameservers []string
	udp         *dns.Client
	tcp         *dns.Client
}

// NewClient returns a Client querying nameservers in order. Entries without a
// port get port 53. A zero timeout means DefaultTimeout.
func NewClient(nameservers []string, timeout time.Duration) (*Client, error) {
	if len(nameservers) == 0 {
		nameservers = DefaultNameservers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	servers := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		addr, err := normalizeAddr(ns)
		if err != nil {
			return nil, err
		}
		servers = append(servers, addr)
	}

	return &Client{
		nameservers: servers,
		udp:         &dns.Client{Net: "udp", Timeout: timeout},
		tcp:         &dns.Client{Net: "tcp", Timeout: timeout},
	}, nil
}

// Nameservers returns the normalized nameserver addresses.
func (c *Client) Nameservers() []string {
	return append([]string(nil), c.nameservers...)
}

// Lookup queries name and returns the textual A records in the answer. An
// NXDOMAIN or an answer without A records yields an empty result and no
// error. Nameservers are tried in order until one gives a usable answer.
func (c *Client) Lookup(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, ns := range c.nameservers {
		start := time.Now()
		resp, err := c.exchange(ctx, m, ns)
		if err != nil {
			observeQuery("error", time.Since(start))
			lastErr = &LookupError{Name: name, Server: ns, Rcode: -1, Err: err}
			log.Debugf("query %s via %s failed: %v", name, ns, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		switch resp.Rcode {
		case dns.RcodeNameError:
			observeQuery("nxdomain", time.Since(start))
			return []string{}, nil
		case dns.RcodeSuccess:
			codes := answerCodes(resp)
			if len(codes) == 0 {
				observeQuery("nodata", time.Since(start))
			} else {
				observeQuery("listed", time.Since(start))
			}
			return codes, nil
		default:
			observeQuery(strings.ToLower(dns.RcodeToString[resp.Rcode]), time.Since(start))
			lastErr = &LookupError{Name: name, Server: ns, Rcode: resp.Rcode}
			log.Debugf("query %s via %s: %s", name, ns, dns.RcodeToString[resp.Rcode])
		}
	}

	return nil, lastErr
}

func (c *Client) exchange(ctx context.Context, m *dns.Msg, ns string) (*dns.Msg, error) {
	resp, _, err := c.udp.ExchangeContext(ctx, m, ns)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		resp, _, err = c.tcp.ExchangeContext(ctx, m, ns)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// answerCodes collects distinct A record values. CNAMEs and other records in
// the answer section are skipped.
func answerCodes(resp *dns.Msg) []string {
	codes := make([]string, 0, len(resp.Answer))
	seen := make(map[string]struct{}, len(resp.Answer))
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		code := a.A.String()
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

func normalizeAddr(ns string) (string, error) {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return "", errors.New("empty nameserver address")
	}
	if _, _, err := net.SplitHostPort(ns); err == nil {
		return ns, nil
	}
	if ip := net.ParseIP(strings.Trim(ns, "[]")); ip != nil {
		return net.JoinHostPort(ip.String(), "53"), nil
	}
	return "", fmt.Errorf("invalid nameserver address: %s", ns)
}
