package service

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
)

// fakeVendor is an in-memory stand-in for the vendor API.
type fakeVendor struct {
	t *testing.T

	mu         sync.Mutex
	deviceType int
	authCalls  int
	tokens     int
	validToken string
	rejectAll  bool
	failPaths  map[string]int
	paths      []string
	locations  string
	devices    string
	onRequest  func(path string)
}

func newFakeVendor(t *testing.T, deviceType int) (*fakeVendor, *httptest.Server) {
	t.Helper()
	v := &fakeVendor{
		t:          t,
		deviceType: deviceType,
		failPaths:  make(map[string]int),
		locations:  `[{"lid":7,"nickname":"Home"}]`,
		devices:    `[{"deviceid":1234,"device_type":3,"device_types_name":"Battery Backup System"}]`,
	}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)
	return v, srv
}

func (v *fakeVendor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if r.URL.Path == "/oauth/token" {
		v.authCalls++
		v.tokens++
		v.validToken = fmt.Sprintf("tok-%d", v.tokens)
		fmt.Fprintf(w, `{"access_token":%q}`, v.validToken)
		return
	}

	v.paths = append(v.paths, r.URL.Path)
	if v.onRequest != nil {
		v.onRequest(r.URL.Path)
	}

	if v.rejectAll || r.Header.Get("Authorization") != "Bearer "+v.validToken {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token"}`))
		return
	}
	if status, ok := v.failPaths[r.URL.Path]; ok {
		w.WriteHeader(status)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/users/email/"):
		w.Write([]byte(`[{"uid":42}]`))
	case strings.HasPrefix(r.URL.Path, "/locations/uid/"):
		w.Write([]byte(v.locations))
	case strings.HasPrefix(r.URL.Path, "/devices/lid/"):
		w.Write([]byte(v.devices))
	case strings.HasPrefix(r.URL.Path, "/devices/deviceid/"):
		fmt.Fprintf(w, `[{"deviceid":1234,"device_type":%d,"device_types_name":"Monitor","user_nickname":"Basement"}]`, v.deviceType)
	case strings.Contains(r.URL.Path, "_cycles/"):
		w.Write([]byte(`[{"year_num":2026,"month_num":10,"week_num":42,"day_num":290,"total_count":5,"gallons":20}]`))
	default:
		w.Write([]byte(`[{"deviceid":"1234","last_rssi":-60,"connected":{"state":true,"message":"ok"}}]`))
	}
}

// expire invalidates the current token. The caller holds v.mu, as onRequest does.
func (v *fakeVendor) expire() {
	v.validToken = "expired"
}

func (v *fakeVendor) resetPaths() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paths = nil
}

func (v *fakeVendor) requestPaths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.paths...)
}

func (v *fakeVendor) authCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.authCalls
}

func newVendorClient(t *testing.T, srv *httptest.Server) *pumpspy.Client {
	return pumpspy.NewClient(srv.URL, "user@example.com", "hunter2",
		pumpspy.WithHTTPClient(srv.Client()),
		pumpspy.WithLogger(zaptest.NewLogger(t)),
		pumpspy.WithRetryDelay(time.Millisecond),
	)
}
