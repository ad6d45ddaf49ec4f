package optimizer

import (
	"errors"
	"math"
)

// macheps — относительная машинная точность для float64
var macheps = math.Nextafter(1, 2) - 1

// golden — коэффициент золотого сечения (3 - sqrt(5))/2 ≈ 0.381966
var golden = (3 - math.Sqrt(5)) / 2

// Iter — одна итерация метода (корень или минимум)
type Iter struct {
	K   int     `json:"k"`
	A   float64 `json:"a"`
	B   float64 `json:"b"`
	X   float64 `json:"x"`
	FX  float64 `json:"fx"`
	Tol float64 `json:"tol"`
	Len float64 `json:"len"`
}

// ErrStopped — специальная ошибка для принудительной остановки
var ErrStopped = errors.New("brent: stopped by callback")

// Zero — метод Брента для поиска корня f на отрезке [a, b]:
// комбинация бисекции, линейной и обратной квадратичной интерполяции
// (Brent, "Algorithms for Minimization Without Derivatives", гл. 4).
//
// Предполагается, что f(a) и f(b) имеют разные знаки; это условие не
// проверяется, при его нарушении результат не определён (метод может
// сойтись к разрыву или к границе отрезка). t — абсолютный допуск,
// должен быть положительным (тоже не проверяется). eps — относительный
// допуск; значение eps <= 0 означает машинную точность. Возвращаемый
// корень x лежит в пределах 6*eps*|x| + 2*t от точного.
//
// Внутреннего ограничения на число итераций нет: на "плохой" функции
// метод может не завершиться, ограничение — забота вызывающего (через
// onIter). onIter вызывается после каждой итерации; если вернёт
// ошибку — алгоритм прерывается и возвращает её (ErrStopped принято
// использовать для штатной остановки).
func Zero(f Func, a, b, t, eps float64, onIter func(Iter) error) (float64, error) {
	if eps <= 0 {
		eps = macheps
	}

	fa, err := f.Eval(a)
	if err != nil {
		return math.NaN(), err
	}
	fb, err := f.Eval(b)
	if err != nil {
		return math.NaN(), err
	}

	c, fc := a, fa
	d := b - a
	e := d

	for k := 1; ; k++ {
		if math.Abs(fc) < math.Abs(fb) {
			// тройная циклическая перестановка: b всегда лучшее приближение
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tol := 2*eps*math.Abs(b) + t
		m := 0.5 * (c - b)

		if math.Abs(m) <= tol || fb == 0 {
			return b, nil
		}

		if math.Abs(e) < tol && math.Abs(fa) <= math.Abs(fb) {
			// вынужденная бисекция
			e = m
			d = e
		} else {
			s := fb / fa
			var p, q float64
			if a == c {
				// линейная интерполяция (секущая)
				p = 2 * m * s
				q = 1 - s
			} else {
				// обратная квадратичная интерполяция по трём точкам
				q = fa / fc
				r := fb / fc
				p = s * (2*m*q*(q-r) - (b-a)*(r-1))
				q = (q - 1) * (r - 1) * (s - 1)
			}
			// нормализация знака: p >= 0, знак шага несёт q
			if p > 0 {
				q = -q
			} else {
				p = -p
			}
			s = e
			e = d
			// при q == 0 (или NaN после fa == 0) сравнение ложно,
			// p/q не вычисляется — откатываемся к бисекции
			if 2*p < 3*m*q-math.Abs(tol*q) && p < math.Abs(0.5*s*q) {
				d = p / q
			} else {
				e = m
				d = e
			}
		}

		a, fa = b, fb
		// шаг не короче tol, чтобы не вычислять f дважды в одной точке
		switch {
		case math.Abs(d) > tol:
			b += d
		case m > 0:
			b += tol
		default:
			b -= tol
		}
		fb, err = f.Eval(b)
		if err != nil {
			return b, err
		}

		if (fb > 0) == (fc > 0) {
			// b и c больше не ограничивают корень — переустанавливаем скобку
			c, fc = a, fa
			d = b - a
			e = d
		}

		if onIter != nil {
			it := Iter{
				K:   k,
				A:   math.Min(b, c),
				B:   math.Max(b, c),
				X:   b,
				FX:  fb,
				Tol: tol,
				Len: math.Abs(c - b),
			}
			if err := onIter(it); err != nil {
				return b, err
			}
		}
	}
}

// LocalMin — метод Брента для поиска локального минимума f на (a, b):
// комбинация золотого сечения и последовательной параболической
// интерполяции. Требуется a < b.
//
// Параметр x (начальное приближение) оставлен для совместимости с
// классической сигнатурой localmin, но фактически игнорируется:
// стартовая точка всегда пересчитывается как a + golden*(b-a).
//
// t и eps задают допуск tol = eps*|x| + t; f никогда не вычисляется в
// двух точках ближе tol друг к другу. Если f δ-унимодальна при δ < tol,
// найденный x отличается от глобального минимума менее чем на 3*tol;
// иначе x может оказаться локальным минимумом. eps <= 0 означает
// sqrt(машинной точности); t должен быть положительным (не проверяется).
//
// onIter — как у Zero.
func LocalMin(f Func, a, b, x, t, eps float64, onIter func(Iter) error) (float64, error) {
	if eps <= 0 {
		eps = math.Sqrt(macheps)
	}

	// входное приближение перезаписывается стартовой точкой золотого сечения
	x = a + golden*(b-a)
	fx, err := f.Eval(x)
	if err != nil {
		return math.NaN(), err
	}
	w, fw := x, fx
	v, fv := w, fw

	var d, e float64

	for k := 1; ; k++ {
		m := 0.5 * (a + b)
		tol := eps*math.Abs(x) + t
		t2 := 2 * tol

		if math.Abs(x-m) <= t2-0.5*(b-a) {
			return x, nil
		}

		var p, q, r float64
		if math.Abs(e) > tol {
			// парабола через (x,fx), (w,fw), (v,fv)
			r = (x - w) * (fx - fv)
			q = (x - v) * (fx - fw)
			p = (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			} else {
				q = -q
			}
			r = e
			e = d
		}

		if math.Abs(p) < math.Abs(0.5*q*r) && p < q*(a-x) && p < q*(b-x) {
			// шаг параболической интерполяции
			d = p / q
			u := x + d
			// f нельзя вычислять слишком близко к a или b
			if u-a < t2 && b-u < t2 {
				if x < m {
					d = tol
				} else {
					d = -tol
				}
			}
		} else {
			// шаг золотого сечения по большему из подынтервалов
			if x < m {
				e = b - x
			} else {
				e = a - x
			}
			d = golden * e
		}

		// f нельзя вычислять слишком близко к x
		var u float64
		switch {
		case math.Abs(d) >= tol:
			u = x + d
		case d > 0:
			u = x + tol
		default:
			u = x - tol
		}
		fu, err := f.Eval(u)
		if err != nil {
			return x, err
		}

		// пересчёт a, b, v, w, x
		if fu <= fx {
			if u < x {
				b = x
			} else {
				a = x
			}
			v, fv = w, fw
			w, fw = x, fx
			x, fx = u, fu
		} else {
			if u < x {
				a = u
			} else {
				b = u
			}
			if fu <= fw || w == x {
				v, fv = w, fw
				w, fw = u, fu
			} else if fu <= fv || v == x || v == w {
				v, fv = u, fu
			}
		}

		if onIter != nil {
			it := Iter{
				K:   k,
				A:   a,
				B:   b,
				X:   x,
				FX:  fx,
				Tol: tol,
				Len: b - a,
			}
			if err := onIter(it); err != nil {
				return x, err
			}
		}
	}
}
