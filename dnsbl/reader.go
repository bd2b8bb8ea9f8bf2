package dnsbl

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/coredns/coredns/plugin"
	"github.com/miekg/dns"

	"github.com/ipshipyard/dnsbl-cache/ipparser"
	"github.com/ipshipyard/dnsbl-cache/store"
)

// recordReader is the part of the store the DNS side reads from.
type recordReader interface {
	Get(ctx context.Context, addr string) (store.Record, error)
}

// dnsblReader answers DNSBL-style queries under ServeZone from the cache. It
// never triggers a lookup: uncached addresses fall through to the next plugin.
type dnsblReader struct {
	Next      plugin.Handler
	ServeZone string
	Store     recordReader
}

// Cached answers are short lived, the cache can be refreshed at any time.
const answerTTL = uint32(60) // seconds

// ServeDNS implements the plugin.Handler interface.
func (p *dnsblReader) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) (int, error) {
	if p.ServeZone == "" {
		return plugin.NextOrFailure(p.Name(), p.Next, ctx, w, r)
	}
	initMetrics()

	var answers []dns.RR
	containsNODATAResponse := false
	containsNXDOMAINResponse := false
	for _, q := range r.Question {
		addr, err := ipparser.Decode(q.Name, p.ServeZone)
		if err != nil {
			continue
		}

		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeTXT && q.Qtype != dns.TypeANY {
			containsNODATAResponse = true
			responseCount.WithLabelValues("NODATA-" + dnsToString(q.Qtype)).Add(1)
			continue
		}

		rec, err := p.Store.Get(ctx, addr)
		if errors.Is(err, store.ErrNotFound) {
			responseCount.WithLabelValues("UNCACHED").Add(1)
			continue
		}
		if err != nil {
			return dns.RcodeServerFailure, err
		}

		if !rec.Listed() {
			containsNXDOMAINResponse = true
			responseCount.WithLabelValues("NXDOMAIN").Add(1)
			continue
		}

		hdr := func(rrtype uint16) dns.RR_Header {
			return dns.RR_Header{
				Name:   dns.Fqdn(q.Name),
				Rrtype: rrtype,
				Class:  dns.ClassINET,
				Ttl:    answerTTL,
			}
		}
		if q.Qtype == dns.TypeA || q.Qtype == dns.TypeANY {
			for _, code := range rec.Codes {
				ip := net.ParseIP(code).To4()
				if ip == nil {
					continue
				}
				answers = append(answers, &dns.A{Hdr: hdr(dns.TypeA), A: ip})
			}
			responseCount.WithLabelValues("A").Add(1)
		}
		if q.Qtype == dns.TypeTXT || q.Qtype == dns.TypeANY {
			answers = append(answers, &dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: []string{strings.Join(rec.Codes, " ")}})
			responseCount.WithLabelValues("TXT").Add(1)
		}
	}

	if len(answers) > 0 || containsNODATAResponse || containsNXDOMAINResponse {
		var m dns.Msg
		m.SetReply(r)
		m.Authoritative = true
		m.Answer = answers
		if len(answers) == 0 && containsNXDOMAINResponse {
			m.Rcode = dns.RcodeNameError
		}

		err := w.WriteMsg(&m)
		if err != nil {
			return dns.RcodeServerFailure, err
		}
		return m.Rcode, nil
	}

	// Call next plugin (if any).
	return plugin.NextOrFailure(p.Name(), p.Next, ctx, w, r)
}

// Name implements the Handler interface.
func (p *dnsblReader) Name() string { return pluginName }
