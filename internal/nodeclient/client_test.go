package nodeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// fakeWorker serves the worker side of the wire contract.
type fakeWorker struct {
	mu       sync.Mutex
	status   cluster.NodeStatus
	code     cluster.ResponseCode
	runs     []RunRequest
	stops    []string
	callback string
	broken   atomic.Bool
}

func newFakeWorker(t *testing.T) (*fakeWorker, *httptest.Server) {
	t.Helper()
	w := &fakeWorker{
		code: cluster.ResponseOK,
		status: cluster.NodeStatus{
			MaxProcesses: 4,
			Running: []cluster.RunningJob{{
				Domain:   "busy.com",
				Settings: cluster.Settings{"depth": 2, "ratio": 0.5},
			}},
			LoadAverage:  []float64{0.5, 0.25, 0.1},
			LogDirectory: "/var/log/worker",
		},
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			if w.broken.Load() {
				http.Error(rw, "boom", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(rw, req)
		})
	})
	r.Get(PathStatus, func(rw http.ResponseWriter, _ *http.Request) {
		w.mu.Lock()
		defer w.mu.Unlock()
		writeJSON(rw, w.status)
	})
	r.Post(PathMaster, func(rw http.ResponseWriter, req *http.Request) {
		var body MasterRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.callback = body.CallbackURL
		writeJSON(rw, w.status)
	})
	r.Post(PathRun, func(rw http.ResponseWriter, req *http.Request) {
		var body RunRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.runs = append(w.runs, body)
		writeJSON(rw, RunResponse{ResponseCode: w.code})
	})
	r.Post(PathStop, func(rw http.ResponseWriter, req *http.Request) {
		var body StopRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.stops = append(w.stops, body.Domain)
		writeJSON(rw, StopResponse{OK: true})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return w, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestChannel_Calls(t *testing.T) {
	t.Parallel()

	worker, srv := newFakeWorker(t)
	ctx := context.Background()
	dialer := NewDialer(srv.Client(), zap.NewNop())

	ch, err := dialer.Dial(ctx, "n1", addrOf(srv), func(error) {
		t.Error("unexpected disconnect")
	})
	require.NoError(t, err)

	status, err := ch.SetMaster(ctx, "http://master/v1/nodes/n1/report")
	require.NoError(t, err)
	require.Equal(t, 3, status.FreeSlots())
	require.Equal(t, []float64{0.5, 0.25, 0.1}, status.LoadAverage)
	require.Equal(t, cluster.Settings{"depth": int64(2), "ratio": 0.5}, status.Running[0].Settings)
	require.Equal(t, "http://master/v1/nodes/n1/report", worker.callback)

	status, err = ch.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "busy.com", status.Running[0].Domain)

	code, err := ch.Run(ctx, "a.com", cluster.Settings{"depth": int64(3)})
	require.NoError(t, err)
	require.Equal(t, cluster.ResponseOK, code)

	worker.mu.Lock()
	worker.code = cluster.ResponseNoFreeSlot
	worker.mu.Unlock()
	code, err = ch.Run(ctx, "b.com", nil)
	require.NoError(t, err)
	require.Equal(t, cluster.ResponseNoFreeSlot, code)

	require.NoError(t, ch.Stop(ctx, "a.com"))

	worker.mu.Lock()
	defer worker.mu.Unlock()
	require.Len(t, worker.runs, 2)
	require.Equal(t, "a.com", worker.runs[0].Domain)
	require.InDelta(t, 3, worker.runs[0].Settings["depth"], 0)
	require.Equal(t, []string{"a.com"}, worker.stops)
}

func TestChannel_FailureFiresDisconnectOnce(t *testing.T) {
	t.Parallel()

	worker, srv := newFakeWorker(t)
	ctx := context.Background()

	var fired atomic.Int32
	ch, err := NewDialer(srv.Client(), nil).Dial(ctx, "n1", srv.URL, func(err error) {
		require.ErrorIs(t, err, cluster.ErrDisconnected)
		fired.Add(1)
	})
	require.NoError(t, err)

	worker.broken.Store(true)
	_, err = ch.Status(ctx)
	require.ErrorIs(t, err, cluster.ErrDisconnected)
	require.ErrorContains(t, err, "unexpected status 500")

	worker.broken.Store(false)
	_, err = ch.Run(ctx, "a.com", nil)
	require.ErrorIs(t, err, cluster.ErrDisconnected)
	require.ErrorIs(t, ch.Stop(ctx, "a.com"), cluster.ErrDisconnected)
	require.Equal(t, int32(1), fired.Load())

	worker.mu.Lock()
	defer worker.mu.Unlock()
	require.Empty(t, worker.runs, "calls after a failure fail fast")
}

func TestChannel_UnknownResponseCodeIsChannelFailure(t *testing.T) {
	t.Parallel()

	worker, srv := newFakeWorker(t)
	worker.mu.Lock()
	worker.code = "MAYBE"
	worker.mu.Unlock()
	ctx := context.Background()

	var fired atomic.Int32
	ch, err := NewDialer(srv.Client(), nil).Dial(ctx, "n1", addrOf(srv), func(error) { fired.Add(1) })
	require.NoError(t, err)

	_, err = ch.Run(ctx, "a.com", nil)
	require.ErrorIs(t, err, cluster.ErrDisconnected)
	require.Equal(t, int32(1), fired.Load())
}

func TestChannel_CloseDoesNotFireDisconnect(t *testing.T) {
	t.Parallel()

	_, srv := newFakeWorker(t)
	ctx := context.Background()

	ch, err := NewDialer(srv.Client(), nil).Dial(ctx, "n1", addrOf(srv), func(error) {
		t.Error("close must not fire disconnect")
	})
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	_, err = ch.Status(ctx)
	require.ErrorIs(t, err, cluster.ErrDisconnected)
}

func TestDialer_StatusCheckFailure(t *testing.T) {
	t.Parallel()

	worker, srv := newFakeWorker(t)
	worker.broken.Store(true)

	_, err := NewDialer(srv.Client(), nil).Dial(context.Background(), "n1", addrOf(srv), nil)
	require.ErrorIs(t, err, cluster.ErrDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = NewDialer(nil, nil).Dial(ctx, "n2", "127.0.0.1:1", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, cluster.ErrDisconnected))
}
