package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(context.Context) error { return m.err }

// --- Helpers ---

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type response struct {
	status string
	checks map[string]string
}

func probeResult(t *testing.T, h http.HandlerFunc) (int, response) {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := response{checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := d.Str()
			resp.status = s
			return err
		case "checks":
			return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
				msg, err := d.Str()
				resp.checks[string(name)] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return w.Code, resp
}

func runN(h *Health, i, n int) {
	for range n {
		h.probes[i].run(context.Background())
	}
}

// --- Tests ---

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		check      CheckFunc
		threshold  int
		runs       int
		wantCode   int
		wantStatus string
		wantCheck  string
	}{
		{name: "starts healthy", check: failing("down"), runs: 0, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "passing", check: passing(), runs: 5, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "below threshold", check: failing("temporary"), runs: 2, wantCode: http.StatusOK, wantStatus: "ok"},
		{
			name: "at threshold", check: failing("connection refused"), runs: 3,
			wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy", wantCheck: "connection refused",
		},
		{
			name: "custom threshold", check: failing("gone"), threshold: 1, runs: 1,
			wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy", wantCheck: "gone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.Add(Check{Name: "db", Kind: Liveness, Func: tt.check, FailureThreshold: tt.threshold})
			runN(h, 0, tt.runs)

			code, resp := probeResult(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.status)
			if tt.wantCheck != "" {
				assert.Equal(t, tt.wantCheck, resp.checks["db"])
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var fail bool
	h := New()
	h.Add(Check{Name: "flaky", Kind: Liveness, SuccessThreshold: 2, Func: func(context.Context) error {
		if fail {
			return errors.New("flaky")
		}
		return nil
	}})

	fail = true
	runN(h, 0, 3)
	code, _ := probeResult(t, h.LiveEndpoint)
	require.Equal(t, http.StatusServiceUnavailable, code)

	fail = false
	runN(h, 0, 1)
	code, _ = probeResult(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code, "one success is below the success threshold")

	runN(h, 0, 1)
	code, _ = probeResult(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.Add(Check{Name: "settings", Kind: Readiness, Func: failing("no active settings"), FailureThreshold: 1})

	code, resp := probeResult(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is not ready", resp.checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = probeResult(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	runN(h, 0, 1)
	code, resp = probeResult(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "no active settings", resp.checks["settings"])
	assert.NotContains(t, resp.checks, "_readiness")
	assert.False(t, h.IsReady())
}

func TestKindsAreSeparate(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Add(Check{Name: "live", Kind: Liveness, Func: failing("x"), FailureThreshold: 1})
	h.Add(Check{Name: "ready", Kind: Readiness, Func: passing()})
	runN(h, 0, 1)

	code, _ := probeResult(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = probeResult(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestRegister(t *testing.T) {
	h := New()
	mux := http.NewServeMux()
	h.Register(mux)

	for path, want := range map[string]int{
		"/livez":  http.StatusOK,
		"/readyz": http.StatusServiceUnavailable,
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}

func TestRun(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Add(Check{Name: "db", Kind: Readiness, Func: failing("down"), FailureThreshold: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Add(Check{Name: "a", Kind: Liveness, Func: passing()})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 3 {
			case 0:
				h.Add(Check{Name: "extra", Kind: Readiness, Func: passing()})
			case 1:
				probeResult(t, h.ReadyEndpoint)
			default:
				h.SetReady(i%2 == 0)
			}
		}()
	}
	wg.Wait()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		check   CheckFunc
		wantErr string
	}{
		{name: "ping ok", check: Ping(mockPinger{})},
		{name: "ping failed", check: Ping(mockPinger{err: errors.New("refused")}), wantErr: "ping: refused"},
		{name: "goroutines under", check: GoroutineCount(100000)},
		{name: "goroutines over", check: GoroutineCount(0), wantErr: "exceeds threshold"},
		{name: "gc pause under", check: GCMaxPause(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(ctx)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
