package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func realIPSeenBy(t *testing.T, trusted []string, remoteAddr string, headers map[string]string) string {
	t.Helper()

	var seen string
	h := TrustedRealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.RemoteAddr
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return seen
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		desc       string
		trusted    []string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			desc:       "trusted proxy with X-Real-IP",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.5:41234",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			desc:       "trusted proxy takes first X-Forwarded-For hop",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.5:41234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.5"},
			want:       "203.0.113.7",
		},
		{
			desc:       "untrusted client cannot spoof",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "198.51.100.9:555",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			want:       "198.51.100.9:555",
		},
		{
			desc:       "no proxies configured keeps RemoteAddr",
			trusted:    nil,
			remoteAddr: "10.0.0.5:41234",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			want:       "10.0.0.5:41234",
		},
		{
			desc:       "bare address entry trusts that host",
			trusted:    []string{"127.0.0.1"},
			remoteAddr: "127.0.0.1:9000",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			desc:       "garbage header is ignored",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.0.0.5:41234",
			headers:    map[string]string{"X-Real-IP": "not-an-ip"},
			want:       "10.0.0.5:41234",
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			if got := realIPSeenBy(t, tc.trusted, tc.remoteAddr, tc.headers); got != tc.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseProxyNetsSkipsInvalidEntries(t *testing.T) {
	nets := parseProxyNets([]string{"10.0.0.0/8", "not a cidr", "", "192.0.2.1"})
	if len(nets) != 2 {
		t.Fatalf("parsed %d networks, want 2", len(nets))
	}
}
