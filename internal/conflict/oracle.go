// Package conflict реализует фоновый детектор пространственно-временных
// конфликтов между участниками расписания.
package conflict

import (
	"math"
	"time"

	"github.com/iudanet/fleetsched/internal/models"
)

// Oracle решает, пересекаются ли две траектории в пространстве-времени.
// Ядро потребляет оракула как внешнюю зависимость с фиксированной
// сигнатурой; реализация внедряется при конструировании.
type Oracle interface {
	Between(
		profileA models.Profile, trajectoryA models.Trajectory,
		profileB models.Profile, trajectoryB models.Trajectory,
	) bool
}

// OracleFunc адаптер функции к интерфейсу Oracle.
type OracleFunc func(
	profileA models.Profile, trajectoryA models.Trajectory,
	profileB models.Profile, trajectoryB models.Trajectory,
) bool

// Between вызывает функцию-оракула.
func (f OracleFunc) Between(
	pa models.Profile, ta models.Trajectory,
	pb models.Profile, tb models.Trajectory,
) bool {
	return f(pa, ta, pb, tb)
}

// ProximityOracle простая геометрическая реализация оракула:
// конфликт фиксируется, если в пересечении временных интервалов
// траекторий участники сближаются меньше суммы их радиусов.
// Позиции между точками траектории интерполируются линейно.
type ProximityOracle struct{}

// Between реализует Oracle.
func (ProximityOracle) Between(
	pa models.Profile, ta models.Trajectory,
	pb models.Profile, tb models.Trajectory,
) bool {
	if ta.Empty() || tb.Empty() {
		return false
	}

	start := laterTime(ta.StartTime(), tb.StartTime())
	finish := earlierTime(ta.FinishTime(), tb.FinishTime())
	if finish.Before(start) {
		return false
	}

	minGap := pa.Footprint + pb.Footprint

	// равномерно сэмплируем пересечение интервалов: линейная
	// интерполяция между точками дает позиции обеих траекторий
	const samples = 64
	span := finish.Sub(start)
	for i := 0; i <= samples; i++ {
		at := start.Add(span * time.Duration(i) / samples)
		ax, ay, okA := positionAt(ta, at)
		bx, by, okB := positionAt(tb, at)
		if okA && okB && distance(ax, ay, bx, by) < minGap {
			return true
		}
	}
	return false
}

// positionAt возвращает интерполированную позицию траектории в момент t.
func positionAt(t models.Trajectory, at time.Time) (x, y float64, ok bool) {
	wps := t.Waypoints
	if len(wps) == 0 || at.Before(wps[0].Time) || at.After(wps[len(wps)-1].Time) {
		return 0, 0, false
	}

	for i := 1; i < len(wps); i++ {
		a, b := wps[i-1], wps[i]
		if at.Before(a.Time) || at.After(b.Time) {
			continue
		}
		span := b.Time.Sub(a.Time)
		if span <= 0 {
			return b.X, b.Y, true
		}
		frac := float64(at.Sub(a.Time)) / float64(span)
		return a.X + (b.X-a.X)*frac, a.Y + (b.Y-a.Y)*frac, true
	}
	return wps[len(wps)-1].X, wps[len(wps)-1].Y, true
}

func distance(ax, ay, bx, by float64) float64 {
	dx, dy := ax-bx, ay-by
	return math.Hypot(dx, dy)
}

func laterTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
