package solver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"challengeflow/internal/backoff"
	"challengeflow/internal/challenge"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

// recordingSleeper returns immediately and keeps every requested delay.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	onCall func(n int) error
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if s.onCall != nil {
		if err := s.onCall(n); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// fakeService scripts getTaskResult responses and records createTask bodies.
type fakeService struct {
	mu          sync.Mutex
	creates     []map[string]any
	polls       []map[string]any
	createReply string
	createCode  int
	results     []string
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.creates = append(f.creates, body)
		code, reply := f.createCode, f.createReply
		f.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
		}
		io.WriteString(w, reply)
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.polls = append(f.polls, body)
		reply := `{"errorId":1,"status":"","errorDescription":"script exhausted"}`
		if len(f.results) > 0 {
			reply, f.results = f.results[0], f.results[1:]
		}
		f.mu.Unlock()
		if strings.HasPrefix(reply, "HTTP ") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, reply)
	})
	return mux
}

func newTestClient(t *testing.T, svc *fakeService, sleeper backoff.Sleeper) (*Client, func()) {
	ts := httptest.NewServer(svc.handler(t))
	c := NewClient(Config{BaseURL: ts.URL + "/", ClientKey: "key-123"},
		WithSleeper(sleeper), WithHTTPClient(ts.Client()))
	return c, ts.Close
}

const processing = `{"errorId":0,"status":"processing"}`

func TestSubmit_WireContract(t *testing.T) {
	svc := &fakeService{createReply: `{"errorId":0,"taskId":72345678901}`}
	c, done := newTestClient(t, svc, &recordingSleeper{})
	defer done()

	img := []byte{0xff, 0xd8, 0x01, 0x02}
	task := challenge.NewSolveTask(challenge.Snapshot{Image: img, Text: "Pick the images that match"})
	handle, err := c.Submit(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, challenge.SolveHandle("72345678901"), handle)

	require.Len(t, svc.creates, 1)
	want := map[string]any{
		"clientKey": "key-123",
		"task": map[string]any{
			"type":    "GridTask",
			"body":    base64.StdEncoding.EncodeToString(img),
			"comment": "Pick the images that match",
			"imgType": "funcaptcha",
		},
	}
	if diff := cmp.Diff(want, svc.creates[0]); diff != "" {
		t.Errorf("createTask body mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_CompareGrid(t *testing.T) {
	svc := &fakeService{createReply: `{"errorId":0,"taskId":"abc"}`}
	c, done := newTestClient(t, svc, &recordingSleeper{})
	defer done()

	_, err := c.Submit(context.Background(), challenge.NewSolveTask(challenge.Snapshot{Text: "Which one differs"}))
	require.NoError(t, err)
	task := svc.creates[0]["task"].(map[string]any)
	assert.Equal(t, "funcaptcha_compare", task["imgType"])
}

func TestSubmit_FailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		reply     string
		transport bool
	}{
		{name: "server error", code: http.StatusInternalServerError, reply: "boom", transport: true},
		{name: "service error", reply: `{"errorId":10,"errorCode":"ERROR_ZERO_BALANCE","errorDescription":"no funds"}`},
		{name: "missing task id", reply: `{"errorId":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{createCode: tt.code, createReply: tt.reply}
			c, done := newTestClient(t, svc, &recordingSleeper{})
			defer done()

			_, err := c.Submit(context.Background(), challenge.SolveTask{})
			require.Error(t, err)
			assert.Len(t, svc.creates, 1)

			var te *TransportError
			var le *LogicError
			if tt.transport {
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.code, te.StatusCode)
			} else {
				require.ErrorAs(t, err, &le)
			}
		})
	}
}

func TestSubmit_ConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(Config{BaseURL: url, ClientKey: "k"})
	_, err := c.Submit(context.Background(), challenge.SolveTask{})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Transient())
}

func TestAwait_BackoffUntilReady(t *testing.T) {
	svc := &fakeService{results: []string{
		processing, processing, processing,
		`{"errorId":0,"status":"ready","solution":{"click":[2,5]}}`,
	}}
	sleeper := &recordingSleeper{}
	c, done := newTestClient(t, svc, sleeper)
	defer done()

	sol, err := c.Await(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, sol.Cells)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, sleeper.delays)

	require.Len(t, svc.polls, 4)
	assert.Equal(t, "key-123", svc.polls[0]["clientKey"])
	assert.EqualValues(t, 42, svc.polls[0]["taskId"])
}

func TestAwait_DelayCappedAtSixtySeconds(t *testing.T) {
	results := make([]string, 0, 9)
	for i := 0; i < 8; i++ {
		results = append(results, processing)
	}
	results = append(results, `{"status":"ready","solution":{"click":[1]}}`)
	sleeper := &recordingSleeper{}
	c, done := newTestClient(t, &fakeService{results: results}, sleeper)
	defer done()

	_, err := c.Await(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, sleeper.delays, 8)
	assert.Equal(t, 5*time.Second, sleeper.delays[0])
	for i := 1; i < len(sleeper.delays); i++ {
		assert.GreaterOrEqual(t, sleeper.delays[i], sleeper.delays[i-1])
		assert.LessOrEqual(t, sleeper.delays[i], 2*sleeper.delays[i-1])
		assert.LessOrEqual(t, sleeper.delays[i], 60*time.Second)
	}
	assert.Equal(t, 60*time.Second, sleeper.delays[7])
}

func TestAwait_TerminalStatus(t *testing.T) {
	svc := &fakeService{results: []string{
		processing,
		`{"errorId":12,"errorCode":"ERROR_CAPTCHA_UNSOLVABLE","errorDescription":"Workers could not solve the Captcha"}`,
	}}
	c, done := newTestClient(t, svc, &recordingSleeper{})
	defer done()

	_, err := c.Await(context.Background(), "9")
	var le *LogicError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Workers could not solve the Captcha", le.Description)
	assert.Len(t, svc.polls, 2)
}

func TestAwait_HTTPErrorIsTerminal(t *testing.T) {
	svc := &fakeService{results: []string{"HTTP 502"}}
	c, done := newTestClient(t, svc, &recordingSleeper{})
	defer done()

	_, err := c.Await(context.Background(), "9")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.False(t, IsTransient(err))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestAwait_TransientFailuresRetried(t *testing.T) {
	var calls atomic.Int32
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n := calls.Add(1)
		if n <= 2 {
			return nil, errors.New("connection reset by peer")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"status":"ready","solution":{"click":[3]}}`)),
			Header:     make(http.Header),
		}, nil
	})
	sleeper := &recordingSleeper{}
	c := NewClient(Config{BaseURL: "http://solver.invalid", ClientKey: "k"},
		WithHTTPClient(&http.Client{Transport: rt}), WithSleeper(sleeper))

	sol, err := c.Await(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, sol.Cells)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeper.delays)
	assert.EqualValues(t, 3, calls.Load())
}

func TestAwait_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &recordingSleeper{onCall: func(int) error {
		cancel()
		return context.Canceled
	}}
	c, done := newTestClient(t, &fakeService{results: []string{processing, processing}}, sleeper)
	defer done()

	_, err := c.Await(ctx, "5")
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "5")
}

func TestPoll_ReadyWithoutClick(t *testing.T) {
	c, done := newTestClient(t, &fakeService{results: []string{`{"status":"ready","solution":{}}`}}, &recordingSleeper{})
	defer done()

	_, err := c.Poll(context.Background(), "abc")
	var le *LogicError
	require.ErrorAs(t, err, &le)
}
