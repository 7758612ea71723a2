package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/internal/httpclient"
	cftest "github.com/teranos/courseforge/internal/testing"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/pulse/async"
)

// Notification tests follow ada finishing a script job and a three-item batch,
// while mallory is connected to the same hub and must hear nothing.

var notifyNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func scriptDone() JobSummary {
	return JobSummary{
		JobID:       "job-script",
		OwnerID:     "ada",
		JobType:     "script",
		Status:      "completed",
		CreditsUsed: 4,
		CompletedAt: notifyNow,
	}
}

func batchDone() BatchSummary {
	return BatchSummary{BatchID: "batch-1", OwnerID: "ada", Total: 3, Succeeded: 2, Failed: 1, JobIDs: []string{"a", "b", "c"}}
}

type recordingNotifier struct {
	jobs    int
	batches int
	err     error
}

func (r *recordingNotifier) NotifyJobComplete(context.Context, string, JobSummary) error {
	r.jobs++
	return r.err
}

func (r *recordingNotifier) NotifyBatchComplete(context.Context, string, BatchSummary) error {
	r.batches++
	return r.err
}

func TestMultiAttemptsEverySink(t *testing.T) {
	first := &recordingNotifier{err: errors.New("webhook down")}
	second := &recordingNotifier{}
	third := &recordingNotifier{err: errors.New("stream down")}

	m := Multi{first, nil, second, third}
	err := m.NotifyJobComplete(context.Background(), "ada", scriptDone())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook down")
	assert.Equal(t, 1, first.jobs)
	assert.Equal(t, 1, second.jobs, "a failing sink does not stop the fan-out")
	assert.Equal(t, 1, third.jobs)

	require.Error(t, m.NotifyBatchComplete(context.Background(), "ada", batchDone()))
	assert.Equal(t, 1, second.batches)

	assert.NoError(t, Multi{second}.NotifyJobComplete(context.Background(), "ada", scriptDone()))
}

func TestLogNotifier(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	n := NewLogNotifier(nil, m)

	failed := scriptDone()
	failed.Status = "failed"
	failed.Error = "provider error"
	assert.NoError(t, n.NotifyJobComplete(context.Background(), "ada", failed))
	assert.NoError(t, n.NotifyBatchComplete(context.Background(), "ada", batchDone()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("log", "ok")))
}

func TestWebhookDeliversOnce(t *testing.T) {
	var hits atomic.Int32
	var got Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, EventJobCompleted, r.Header.Get("X-Courseforge-Event"))
		assert.Equal(t, "s3cret", r.Header.Get("X-Courseforge-Secret"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "s3cret", nil).WithClient(httpclient.WrapClient(server.Client()))
	require.NoError(t, n.NotifyJobComplete(context.Background(), "ada", scriptDone()))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, EventJobCompleted, got.Type)
	require.NotNil(t, got.Job)
	assert.Equal(t, "job-script", got.Job.JobID)
	assert.Nil(t, got.Batch)
}

func TestWebhookFailureIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	n := NewWebhookNotifier(server.URL, "", m).WithClient(httpclient.WrapClient(server.Client()))
	err := n.NotifyBatchComplete(context.Background(), "ada", batchDone())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("webhook", "error")))
}

func TestWebhookWithoutURLIsNoop(t *testing.T) {
	n := NewWebhookNotifier("", "", nil)
	assert.NoError(t, n.NotifyJobComplete(context.Background(), "ada", scriptDone()))
}

func TestStreamNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	n := NewStreamNotifier(client, "", 100, nil)
	ctx := context.Background()
	require.NoError(t, n.NotifyJobComplete(ctx, "ada", scriptDone()))
	require.NoError(t, n.NotifyBatchComplete(ctx, "ada", batchDone()))

	entries, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventJobCompleted, entries[0].Values["type"])
	assert.Equal(t, "ada", entries[0].Values["owner"])

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(entries[1].Values["event"].(string)), &ev))
	assert.Equal(t, EventBatchCompleted, ev.Type)
	assert.Equal(t, 2, ev.Batch.Succeeded)
}

func TestStreamNotifierNilIsNoop(t *testing.T) {
	var n *StreamNotifier = NewStreamNotifier(nil, "", 0, nil)
	assert.Nil(t, n)
	assert.NoError(t, n.NotifyJobComplete(context.Background(), "ada", scriptDone()))
	assert.NoError(t, n.NotifyBatchComplete(context.Background(), "ada", batchDone()))
}

func TestStreamNotifierReportsRedisErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	n := NewStreamNotifier(client, "events", 0, nil)
	err := n.NotifyJobComplete(context.Background(), "ada", scriptDone())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to stream events")
}

func dialHub(t *testing.T, server *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set(OwnerHeader, owner)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubDeliversOnlyToOwner(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	ada := dialHub(t, server, "ada")
	mallory := dialHub(t, server, "mallory")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.NotifyJobComplete(context.Background(), "ada", scriptDone()))
	msg := readEvent(t, ada)
	assert.Equal(t, EventJobCompleted, msg["type"])

	require.NoError(t, mallory.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := mallory.ReadMessage()
	assert.Error(t, err, "mallory must not receive ada's events")
}

func TestHubRejectsAnonymousClients(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubForwardsQueueUpdates(t *testing.T) {
	queue := async.NewQueue(cftest.CreateTestDB(t))
	hub := NewHub(nil, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx, queue)

	ada := dialHub(t, server, "ada")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := queue.Create(ctx, async.Spec{OwnerID: "ada", JobType: "outline"})
	require.NoError(t, err)
	_, err = queue.Create(ctx, async.Spec{OwnerID: "mallory", JobType: "quiz"})
	require.NoError(t, err)

	msg := readEvent(t, ada)
	assert.Equal(t, "job_update", msg["type"])
	job := msg["job"].(map[string]interface{})
	assert.Equal(t, "pending", job["status"])
	assert.Equal(t, "ada", job["owner_id"])
	assert.Equal(t, "outline", job["job_type"])
}

func TestHubFanOutSurvivesDisconnects(t *testing.T) {
	// ada has a dashboard open in many tabs and closes them while a batch finishes
	h := NewHub(nil, nil, nil)
	for round := 0; round < 50; round++ {
		tabs := make([]*hubClient, 200)
		for i := range tabs {
			tabs[i] = &hubClient{hub: h, send: make(chan interface{}, clientSendBuffer), owner: "ada", id: "tab"}
			h.register(tabs[i])
		}

		var (
			wg     sync.WaitGroup
			panics atomic.Int32
		)
		start := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if recover() != nil {
						panics.Add(1)
					}
				}()
				<-start
				for n := 0; n < 20; n++ {
					h.sendTo("ada", JobUpdate{Type: "job_update"})
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for _, c := range tabs {
				h.unregister(c)
			}
		}()
		close(start)
		wg.Wait()

		require.Zero(t, panics.Load(), "round %d", round)
		assert.Zero(t, h.ClientCount())
		assert.Zero(t, h.sendTo("ada", JobUpdate{Type: "job_update"}))
	}
}
