package optimizer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/Knetic/govaluate"
)

// Func — интерфейс для абстрактной скалярной функции f(x)
type Func interface {
	Eval(x float64) (float64, error)
}

// builtins — математические функции, доступные в выражениях
var builtins = map[string]govaluate.ExpressionFunction{
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"atan": unary(math.Atan),
	"exp":  unary(math.Exp),
	"log":  unary(math.Log),
	"sqrt": unary(math.Sqrt),
	"abs":  unary(math.Abs),
	"pow": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("pow: ожидается 2 аргумента, получено %d", len(args))
		}
		return math.Pow(toFloat(args[0]), toFloat(args[1])), nil
	},
}

func unary(f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("ожидается 1 аргумент, получено %d", len(args))
		}
		return f(toFloat(args[0])), nil
	}
}

// evalFunc — реализация Func на основе govaluate
type evalFunc struct {
	expr   *govaluate.EvaluableExpression
	params map[string]interface{}
}

// decimalComma — десятичная запятая: запятая, зажатая между цифрами
var decimalComma = regexp.MustCompile(`(\d),(\d)`)

// NewEvalFunc создаёт вычислимую функцию по строке f(x).
// Кроме переменной x в выражении доступны константы pi и e.
// Десятичную запятую можно писать вместо точки (0,5); запятую между
// аргументами функций нужно отделять пробелом: pow(x, 2).
func NewEvalFunc(expr string) (Func, error) {
	// нормализуем только запятые в десятичной записи,
	// не трогая разделители аргументов
	expr = decimalComma.ReplaceAllString(expr, "$1.$2")

	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(expr, builtins)
	if err != nil {
		return nil, fmt.Errorf("разбор выражения: %w", err)
	}

	return &evalFunc{
		expr: parsed,
		params: map[string]interface{}{
			"x":  0.0,
			"pi": math.Pi,
			"e":  math.E,
		},
	}, nil
}

func (f *evalFunc) Eval(x float64) (float64, error) {
	f.params["x"] = x
	v, err := f.expr.Evaluate(f.params)
	if err != nil {
		return math.NaN(), err
	}

	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return math.NaN(), err
		}
		return parsed, nil
	default:
		return math.NaN(), fmt.Errorf("выражение не вернуло число: %T", v)
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return math.NaN()
	}
}
