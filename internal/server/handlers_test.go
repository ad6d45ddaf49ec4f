package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"

	"idz2_opt/internal/optimizer"
	"idz2_opt/internal/sse"
)

type startResp struct {
	ID string     `json:"id"`
	Xs []float64  `json:"xs"`
	Ys []*float64 `json:"ys"`
}

func startRun(t *testing.T, body string) startResp {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(body))
	w := httptest.NewRecorder()
	StartRun(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp startResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp
}

func waitRun(t *testing.T, id string) RunView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rs := getRun(id)
		require.NotNil(t, rs)
		v := rs.view()
		if v.Done || v.Stopped || v.Err != "" {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("запуск не завершился вовремя")
	return RunView{}
}

func TestStartRunZero(t *testing.T) {
	resp := startRun(t, `{"method":"zero","func":"x*x - 2","a":1,"b":2,"t":1e-10}`)
	require.Len(t, resp.Xs, 400)
	require.Len(t, resp.Ys, 400)

	v := waitRun(t, resp.ID)
	require.True(t, v.Done, "err=%s", v.Err)
	require.NotNil(t, v.X)
	require.NotNil(t, v.FX)
	assert.True(t, scalar.EqualWithinAbs(*v.X, math.Sqrt2, 1e-8), "x = %v", *v.X)
	assert.Less(t, math.Abs(*v.FX), 1e-8)
	assert.Positive(t, v.Iters)
}

func TestStartRunLocalMin(t *testing.T) {
	resp := startRun(t, `{"method":"localmin","func":"pow(x-2, 2)","a":0,"b":5,"t":1e-8}`)

	v := waitRun(t, resp.ID)
	require.True(t, v.Done, "err=%s", v.Err)
	require.NotNil(t, v.X)
	assert.True(t, scalar.EqualWithinAbs(*v.X, 2, 1e-5), "x = %v", *v.X)
}

// метод по умолчанию — zero
func TestStartRunDefaultMethod(t *testing.T) {
	resp := startRun(t, `{"func":"cos(x)","a":0,"b":3.141592653589793,"t":1e-10}`)

	v := waitRun(t, resp.ID)
	require.True(t, v.Done, "err=%s", v.Err)
	require.NotNil(t, v.X)
	assert.True(t, scalar.EqualWithinAbs(*v.X, math.Pi/2, 1e-8), "x = %v", *v.X)
}

func TestStartRunMaxIter(t *testing.T) {
	resp := startRun(t, `{"method":"localmin","func":"pow(x-2, 2)","a":0,"b":5,"t":1e-8,"maxIter":2}`)

	v := waitRun(t, resp.ID)
	assert.True(t, v.Stopped)
	assert.False(t, v.Done)
	assert.Equal(t, 2, v.Iters)
}

// в точках, где f не определена, график содержит null
func TestStartRunCurveWithGaps(t *testing.T) {
	resp := startRun(t, `{"method":"localmin","func":"x*log(x)","a":-1,"b":1,"t":1e-6}`)

	var nulls int
	for _, y := range resp.Ys {
		if y == nil {
			nulls++
		}
	}
	assert.Positive(t, nulls, "log не определён при x <= 0")
}

func TestStartRunValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"a >= b", `{"func":"x","a":2,"b":1,"t":1e-8}`, http.StatusBadRequest},
		{"unknown method", `{"method":"newton","func":"x","a":0,"b":1}`, http.StatusBadRequest},
		{"bad expression", `{"func":"x +","a":0,"b":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			StartRun(w, req)
			assert.Equal(t, tc.code, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/start", nil)
	w := httptest.NewRecorder()
	StartRun(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestExportCSV(t *testing.T) {
	resp := startRun(t, `{"method":"zero","func":"x*x - 2","a":1,"b":2,"t":1e-10}`)
	waitRun(t, resp.ID)

	req := httptest.NewRequest(http.MethodGet, "/export?id="+resp.ID, nil)
	w := httptest.NewRecorder()
	ExportCSV(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "k,a,b,x,f(x),tol,len", lines[0])
}

func TestExportCSVUnknownID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/export?id=nope", nil)
	w := httptest.NewRecorder()
	ExportCSV(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/export", nil)
	w = httptest.NewRecorder()
	ExportCSV(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResult(t *testing.T) {
	resp := startRun(t, `{"method":"zero","func":"x*x - 2","a":1,"b":2,"t":1e-10}`)
	waitRun(t, resp.ID)

	req := httptest.NewRequest(http.MethodGet, "/result?id="+resp.ID, nil)
	w := httptest.NewRecorder()
	Result(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var v RunView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.True(t, v.Done)
	assert.Equal(t, MethodZero, v.Method)
	require.NotNil(t, v.X)
	assert.True(t, scalar.EqualWithinAbs(*v.X, math.Sqrt2, 1e-8))

	req = httptest.NewRequest(http.MethodGet, "/result?id=nope", nil)
	w = httptest.NewRecorder()
	Result(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// x*log(x) сходится к x = 0, где f не определена (fx = NaN);
// /result обязан отдать корректный JSON с null вместо NaN
func TestResultNonFiniteValues(t *testing.T) {
	resp := startRun(t, `{"method":"localmin","func":"x*log(x)","a":-1,"b":1,"t":1e-6}`)
	v := waitRun(t, resp.ID)
	require.True(t, v.Done, "err=%s", v.Err)

	req := httptest.NewRequest(http.MethodGet, "/result?id="+resp.ID, nil)
	w := httptest.NewRecorder()
	Result(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())

	var out RunView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Done)
	require.NotNil(t, out.X)
	assert.Nil(t, out.FX)
}

// encoding/json не умеет кодировать NaN/Inf; полезные нагрузки событий
// проходят через iterView, иначе событие молча теряется
func TestIterViewMarshalsNonFinite(t *testing.T) {
	it := optimizer.Iter{K: 1, A: -1, B: 1, X: math.NaN(), FX: math.Inf(1), Tol: 1e-8, Len: 2}

	msg, err := json.Marshal(map[string]any{"type": "iter", "iter": iterView(it)})
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"x":null`)
	assert.Contains(t, string(msg), `"fx":null`)
	assert.Contains(t, string(msg), `"k":1`)
}

func TestStopRun(t *testing.T) {
	resp := startRun(t, `{"method":"zero","func":"x*x - 2","a":1,"b":2,"t":1e-10}`)
	waitRun(t, resp.ID)

	req := httptest.NewRequest(http.MethodPost, "/stop?id="+resp.ID, nil)
	w := httptest.NewRecorder()
	StopRun(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/stop?id=nope", nil)
	w = httptest.NewRecorder()
	StopRun(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/stop", nil)
	w = httptest.NewRecorder()
	StopRun(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/stop?id="+resp.ID, nil)
	w = httptest.NewRecorder()
	StopRun(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStreamDeliversEvents(t *testing.T) {
	const id = "stream-test"
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream?id="+id, nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		Stream(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	sse.Publish(id, `{"type":"start"}`)
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	assert.Contains(t, body, "event: msg")
	assert.Contains(t, body, `{"type":"start"}`)
}
