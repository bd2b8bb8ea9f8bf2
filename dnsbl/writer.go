package dnsbl

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caddyserver/certmagic"
	clog "github.com/coredns/coredns/plugin/pkg/log"
	"github.com/coredns/coredns/plugin/pkg/reuseport"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/ipshipyard/dnsbl-cache/resolver"
	"github.com/ipshipyard/dnsbl-cache/store"
)

var log = clog.NewWithPlugin(pluginName)

const (
	apiPrefix = "/v1"

	// maxBodyBytes bounds enqueue request bodies.
	maxBodyBytes = 1 << 20
)

// dnsblWriter serves the HTTP API that enqueues lookups and reads the cache.
type dnsblWriter struct {
	Addr        string
	Domain      string
	ExternalTLS bool
	Users       map[string]string

	Store *store.Store
	Batch *resolver.Batch

	ln           net.Listener
	nlSetup      bool
	closeCertMgr func()

	handler http.Handler
}

func (c *dnsblWriter) OnStartup() error {
	ln, err := reuseport.Listen("tcp", c.Addr)
	if err != nil {
		return err
	}

	if !c.ExternalTLS {
		certCfg := certmagic.NewDefault()
		certCfg.Storage = &certmagic.FileStorage{Path: fmt.Sprintf("%s-certs", strings.Replace(c.Domain, ".", "_", -1))}
		myACME := certmagic.NewACMEIssuer(certCfg, certmagic.ACMEIssuer{
			CA:     certmagic.LetsEncryptProductionCA,
			Agreed: true,
		})
		certCfg.Issuers = []certmagic.Issuer{myACME}

		tlsConfig := certCfg.TLSConfig()
		tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)

		ctx, cancel := context.WithCancel(context.Background())
		if err := certCfg.ManageAsync(ctx, []string{c.Domain}); err != nil {
			cancel()
			ln.Close()
			return err
		}
		c.closeCertMgr = cancel

		ln = tls.NewListener(ln, tlsConfig)
	}

	if len(c.Users) == 0 {
		log.Warningf("no users configured, API at %s is open to all clients", c.Addr)
	}

	c.ln = ln
	c.nlSetup = true
	c.handler = withRequestMetrics(c.routes())

	go func() {
		log.Infof("HTTP API (%s) listener at %s", apiPrefix, c.ln.Addr().String())
		if err := http.Serve(c.ln, c.handler); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warningf("HTTP API stopped: %v", err)
		}
	}()

	return nil
}

// routes builds the API router. All routes sit behind the auth gate. Routes
// live on the root router so a method mismatch answers 405.
func (c *dnsblWriter) routes() http.Handler {
	initMetrics()
	router := mux.NewRouter()
	router.Use(basicAuth(c.Users))

	router.HandleFunc(apiPrefix+"/enqueue", c.handleEnqueue).Methods(http.MethodPost)
	router.HandleFunc(apiPrefix+"/records/{address}", c.handleGetRecord).Methods(http.MethodGet)
	router.HandleFunc(apiPrefix+"/records/{address}", c.handleDeleteRecord).Methods(http.MethodDelete)
	router.HandleFunc(apiPrefix+"/codes", c.handleCodes).Methods(http.MethodGet)

	return router
}

func withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		requestCount.WithLabelValues(strconv.Itoa(m.Code)).Add(1)
		log.Debugf("%s %s (status=%d dt=%s client=%s ua=%q)", r.Method, r.URL, m.Code, m.Duration, clientIP(r), r.UserAgent())
	})
}

type enqueueRequest struct {
	Addresses []string `json:"addresses"`
}

type enqueueResponse struct {
	Addresses []string        `json:"addresses"`
	Results   []outcomeResult `json:"results"`
}

type outcomeResult struct {
	Address string     `json:"address"`
	Codes   []string   `json:"codes,omitempty"`
	Created *time.Time `json:"created,omitempty"`
	Updated *time.Time `json:"updated,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func (c *dnsblWriter) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	req := &enqueueRequest{}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("error decoding body: %s", err))
		return
	}
	if req.Addresses == nil {
		writeError(w, http.StatusBadRequest, "addresses is required")
		return
	}

	// the batch runs to completion even if the client goes away
	ctx := context.WithoutCancel(r.Context())
	addrs, outcomes := c.Batch.Enqueue(ctx, req.Addresses)

	resp := enqueueResponse{
		Addresses: addrs,
		Results:   make([]outcomeResult, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		res := outcomeResult{Address: o.Address}
		if o.Err != nil {
			res.Error = o.Err.Error()
		} else {
			res.Codes = o.Record.Codes
			res.Created = &o.Record.Created
			res.Updated = &o.Record.Updated
		}
		resp.Results = append(resp.Results, res)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *dnsblWriter) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	rec, err := c.Store.Get(r.Context(), addr)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Details for given IP address cannot be found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("error reading record: %s", err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (c *dnsblWriter) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	err := c.Store.Delete(r.Context(), addr)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Details for given IP address cannot be found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("error deleting record: %s", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *dnsblWriter) handleCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := c.Store.Codes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("error listing codes: %s", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Close stops the listener. The writer can be started again afterwards.
func (c *dnsblWriter) Close() error {
	if !c.nlSetup {
		return nil
	}

	c.ln.Close()
	if c.closeCertMgr != nil {
		c.closeCertMgr()
	}
	c.nlSetup = false
	return nil
}
