package tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/mpkschool/backend/core"
)

func Test_rateLimit(t *testing.T) {
	f := setup(t, func(conf *core.Config) {
		conf.Server.RateLimit = 0.001
		conf.Server.RateBurst = 2
	})

	tests := []httpTest{
		{name: "1st", wantCode: http.StatusBadRequest},
		{name: "2nd", wantCode: http.StatusBadRequest},
		{name: "Limited", wantCode: http.StatusTooManyRequests, wantData: marchallObj(t, httpErr{Error: "too many requests"})},
		{name: "Forged X-Forwarded-For", wantCode: http.StatusTooManyRequests},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/api/users/login", []byte(`{}`))
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
			f.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Outside /api", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/")
		f.serve(req, rec)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK}, rec)
	})
}

func Test_rateLimit_trustedProxy(t *testing.T) {
	f := setup(t, func(conf *core.Config) {
		conf.Server.RateLimit = 0.001
		conf.Server.RateBurst = 1
		conf.Server.TrustProxy = true
	})

	tests := []struct {
		httpTest
		remoteAddr string
		xff        string
	}{
		{httpTest: httpTest{name: "Client A through the proxy", wantCode: http.StatusBadRequest}, remoteAddr: "10.0.0.1:4000", xff: "203.0.113.1"},
		{httpTest: httpTest{name: "Client B through the proxy", wantCode: http.StatusBadRequest}, remoteAddr: "10.0.0.1:4000", xff: "203.0.113.2"},
		{httpTest: httpTest{name: "Client A again", wantCode: http.StatusTooManyRequests}, remoteAddr: "10.0.0.1:4000", xff: "203.0.113.1"},
		{httpTest: httpTest{name: "Untrusted peer", wantCode: http.StatusBadRequest}, remoteAddr: "198.51.100.7:4000", xff: "203.0.113.1"},
		{httpTest: httpTest{name: "Untrusted peer rotating", wantCode: http.StatusTooManyRequests}, remoteAddr: "198.51.100.7:4000", xff: "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/api/users/login", []byte(`{}`))
			req.RemoteAddr = tt.remoteAddr
			req.Header.Set("X-Forwarded-For", tt.xff)
			f.serve(req, rec)
			checkCodeAndData(t, tt.httpTest, rec)
		})
	}
}
