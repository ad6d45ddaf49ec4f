package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"idz2_opt/internal/optimizer"
	"idz2_opt/internal/sse"
)

// errMaxIter — достигнут предел итераций, заданный в параметрах запуска
var errMaxIter = errors.New("server: iteration limit reached")

// StartRun запускает новый процесс поиска корня или минимума
func StartRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "только POST", http.StatusMethodNotAllowed)
		return
	}

	var p RunParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "ошибка JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if p.Method == "" {
		p.Method = MethodZero
	}
	if p.Method != MethodZero && p.Method != MethodLocalMin {
		http.Error(w, "неизвестный метод: "+p.Method, http.StatusBadRequest)
		return
	}
	if p.MaxIter <= 0 {
		p.MaxIter = 500
	}
	if p.T <= 0 {
		p.T = 1e-8
	}
	// p.Eps <= 0 означает значение по умолчанию, его выбирает сам метод
	if !(p.A < p.B) {
		http.Error(w, "требуется a < b", http.StatusBadRequest)
		return
	}

	f, err := optimizer.NewEvalFunc(p.Func)
	if err != nil {
		http.Error(w, "ошибка в выражении функции: "+err.Error(), http.StatusBadRequest)
		return
	}

	// предварительно считаем значения функции для графика;
	// в точках, где f не определена, пишем null (NaN не представим в JSON)
	const n = 400
	xs := make([]float64, n)
	ys := make([]*float64, n)
	h := (p.B - p.A) / float64(n-1)
	for i := 0; i < n; i++ {
		x := p.A + float64(i)*h
		xs[i] = x
		if y, err := f.Eval(x); err == nil {
			ys[i] = jsonFloat(y)
		}
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	rs := &RunState{
		ID:        id,
		Params:    p,
		CreatedAt: time.Now(),
		Cancel:    cancel,
	}
	saveRun(rs)

	slog.Info("запуск метода", "id", id, "method", p.Method, "func", p.Func)

	// асинхронный запуск
	go runSolver(ctx, rs, f)

	resp := map[string]any{
		"id": id,
		"xs": xs,
		"ys": ys,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func runSolver(ctx context.Context, rs *RunState, f optimizer.Func) {
	id := rs.ID
	p := rs.Params

	publish(id, map[string]any{"type": "start", "id": id, "method": p.Method})

	iters := 0
	onIter := func(it optimizer.Iter) error {
		select {
		case <-ctx.Done():
			return optimizer.ErrStopped
		default:
		}

		iters = it.K
		rs.addIter(it)
		publish(id, map[string]any{"type": "iter", "iter": iterView(it)})

		if it.K >= p.MaxIter {
			return errMaxIter
		}
		return nil
	}

	var x float64
	var err error
	switch p.Method {
	case MethodLocalMin:
		x, err = optimizer.LocalMin(f, p.A, p.B, p.X0, p.T, p.Eps, onIter)
	default:
		x, err = optimizer.Zero(f, p.A, p.B, p.T, p.Eps, onIter)
	}

	switch {
	case err == nil:
		fx, ferr := f.Eval(x)
		if ferr != nil {
			fx = math.NaN()
		}
		rs.finish(x, fx)
		slog.Info("метод завершён", "id", id, "x", x, "fx", fx, "iters", iters)
		publish(id, map[string]any{"type": "done", "x": jsonFloat(x), "fx": jsonFloat(fx), "iters": iters})

	case errors.Is(err, optimizer.ErrStopped), errors.Is(err, context.Canceled):
		rs.stop()
		slog.Info("метод остановлен", "id", id, "iters", iters)
		publish(id, map[string]any{"type": "stopped", "reason": "stop"})

	case errors.Is(err, errMaxIter):
		rs.stop()
		slog.Warn("достигнут предел итераций", "id", id, "maxIter", p.MaxIter)
		publish(id, map[string]any{"type": "stopped", "reason": "maxIter", "x": jsonFloat(x)})

	default:
		rs.fail("ошибка при вычислении: " + err.Error())
		slog.Warn("ошибка при вычислении", "id", id, "err", err)
		publish(id, map[string]any{"type": "error", "err": err.Error()})
	}
}

func publish(id string, payload map[string]any) {
	msg, _ := json.Marshal(payload)
	sse.Publish(id, string(msg))
}

// StopRun — прерывание процесса
func StopRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "только POST", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "требуется id", http.StatusBadRequest)
		return
	}

	rs := getRun(id)
	if rs == nil {
		http.Error(w, "неизвестный id", http.StatusNotFound)
		return
	}

	if rs.Cancel != nil {
		rs.Cancel()
	}

	w.WriteHeader(http.StatusNoContent)
}

// Result — итоговое состояние запуска
func Result(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "требуется id", http.StatusBadRequest)
		return
	}

	rs := getRun(id)
	if rs == nil {
		http.Error(w, "неизвестный id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rs.view())
}

// ExportCSV — экспорт итераций в CSV
func ExportCSV(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "требуется id", http.StatusBadRequest)
		return
	}

	rs := getRun(id)
	if rs == nil {
		http.Error(w, "неизвестный id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=iterations_"+id+".csv")

	cw := csv.NewWriter(w)
	defer cw.Flush()

	_ = cw.Write([]string{"k", "a", "b", "x", "f(x)", "tol", "len"})

	for _, it := range rs.iterSnapshot() {
		_ = cw.Write([]string{
			strconv.Itoa(it.K),
			fmtFloat(it.A),
			fmtFloat(it.B),
			fmtFloat(it.X),
			fmtFloat(it.FX),
			fmtFloat(it.Tol),
			fmtFloat(it.Len),
		})
	}
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 16, 64)
}

// Stream — SSE-стрим итераций
func Stream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "требуется id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := sse.Subscribe(id)
	defer cancel()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			fmt.Fprintf(w, "event: msg\n")
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
