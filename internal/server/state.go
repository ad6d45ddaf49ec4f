package server

import (
	"context"
	"math"
	"sync"
	"time"

	"idz2_opt/internal/optimizer"
)

// поддерживаемые методы
const (
	MethodZero     = "zero"
	MethodLocalMin = "localmin"
)

// RunParams — параметры запуска метода
type RunParams struct {
	Method  string  `json:"method"` // zero | localmin
	Func    string  `json:"func"`
	A       float64 `json:"a"`
	B       float64 `json:"b"`
	X0      float64 `json:"x0"`  // начальное приближение (только localmin, совещательное)
	T       float64 `json:"t"`   // абсолютный допуск
	Eps     float64 `json:"eps"` // относительный допуск; 0 — значение по умолчанию
	MaxIter int     `json:"maxIter"`
}

// RunState — состояние одного запуска
type RunState struct {
	ID        string
	Params    RunParams
	CreatedAt time.Time
	Cancel    context.CancelFunc

	mu       sync.Mutex
	lastIter optimizer.Iter
	iters    []optimizer.Iter
	x        float64
	fx       float64
	errMsg   string
	done     bool
	stopped  bool
}

func (rs *RunState) addIter(it optimizer.Iter) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.lastIter = it
	rs.iters = append(rs.iters, it)
}

func (rs *RunState) finish(x, fx float64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.x, rs.fx = x, fx
	rs.done = true
}

func (rs *RunState) stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.stopped = true
}

func (rs *RunState) fail(msg string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.errMsg = msg
}

// jsonFloat превращает float64 в JSON-представимое значение:
// NaN и Inf кодируются как null
func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// IterView — итерация в JSON-безопасном виде
type IterView struct {
	K   int      `json:"k"`
	A   *float64 `json:"a"`
	B   *float64 `json:"b"`
	X   *float64 `json:"x"`
	FX  *float64 `json:"fx"`
	Tol *float64 `json:"tol"`
	Len *float64 `json:"len"`
}

func iterView(it optimizer.Iter) IterView {
	return IterView{
		K:   it.K,
		A:   jsonFloat(it.A),
		B:   jsonFloat(it.B),
		X:   jsonFloat(it.X),
		FX:  jsonFloat(it.FX),
		Tol: jsonFloat(it.Tol),
		Len: jsonFloat(it.Len),
	}
}

// RunView — снимок состояния запуска для выдачи наружу
type RunView struct {
	ID      string   `json:"id"`
	Method  string   `json:"method"`
	Done    bool     `json:"done"`
	Stopped bool     `json:"stopped"`
	Err     string   `json:"err,omitempty"`
	X       *float64 `json:"x"`
	FX      *float64 `json:"fx"`
	Iters   int      `json:"iters"`
	Last    IterView `json:"last"`
}

func (rs *RunState) view() RunView {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return RunView{
		ID:      rs.ID,
		Method:  rs.Params.Method,
		Done:    rs.done,
		Stopped: rs.stopped,
		Err:     rs.errMsg,
		X:       jsonFloat(rs.x),
		FX:      jsonFloat(rs.fx),
		Iters:   len(rs.iters),
		Last:    iterView(rs.lastIter),
	}
}

func (rs *RunState) iterSnapshot() []optimizer.Iter {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]optimizer.Iter, len(rs.iters))
	copy(out, rs.iters)
	return out
}

var (
	runsMu sync.Mutex
	runs   = map[string]*RunState{}
)

func saveRun(rs *RunState) {
	runsMu.Lock()
	defer runsMu.Unlock()
	runs[rs.ID] = rs
}

func getRun(id string) *RunState {
	runsMu.Lock()
	defer runsMu.Unlock()
	return runs[id]
}
