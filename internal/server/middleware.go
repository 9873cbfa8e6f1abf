package server

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/rs/zerolog/log"
)

// withCSRF rejects cross-site form posts. Sec-Fetch-Site is authoritative
// when a browser sends it; otherwise the Origin host must match the request
// host. Requests carrying neither header are not from a browser and pass.
func (s *Server) withCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if site := r.Header.Get("Sec-Fetch-Site"); site != "" {
			if site != "same-origin" {
				writeJSON(w, http.StatusForbidden, true, "cross-site request rejected")
				return
			}
			next(w, r)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			host := origin
			if i := strings.Index(origin, "://"); i >= 0 {
				host = origin[i+3:]
			}
			if host != r.Host {
				writeJSON(w, http.StatusForbidden, true, "cross-site request rejected")
				return
			}
		}
		next(w, r)
	}
}

// withAdmission runs the rate limiter before the request body is touched.
// Denied clients get a 429 with a whole-second Retry-After.
func (s *Server) withAdmission(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Gate == nil {
			next(w, r)
			return
		}
		addr, err := s.clientAddr(r)
		if err != nil {
			log.Warn().Err(err).Msg("unable to identify upload client")
			writeJSON(w, http.StatusBadRequest, true, "unable to identify client")
			return
		}
		retry, ok := s.cfg.Gate.Admit(addr)
		if !ok {
			s.cfg.Metrics.AdmissionDenied.Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retry.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, true, "rate limit exceeded, try again later")
			return
		}
		next(w, r)
	}
}

// clientAddr resolves the client address for rate limiting. With header trust
// enabled a proxy-supplied X-Real-IP wins; the connection's peer address is
// the fallback either way.
func (s *Server) clientAddr(r *http.Request) (netip.Addr, error) {
	if s.cfg.TrustHeaders {
		if real := r.Header.Get("X-Real-IP"); real != "" {
			addr, err := netip.ParseAddr(real)
			if err == nil {
				return addr, nil
			}
			log.Warn().Str("header", real).Msg("unparseable X-Real-IP, falling back to peer address")
		}
	}
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		// unix socket peers have no IP address
		return netip.Addr{}, fmt.Errorf("no usable client address for %q", r.RemoteAddr)
	}
	return ap.Addr(), nil
}
