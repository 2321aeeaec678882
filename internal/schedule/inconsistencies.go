package schedule

import (
	"github.com/iudanet/fleetsched/internal/version"
	"github.com/iudanet/fleetsched/pkg/api"
)

// Range непрерывный диапазон неполученных версий итинерария [Lower, Upper].
type Range struct {
	Lower uint64
	Upper uint64
}

// rangeSet хранит диапазоны пропущенных версий одного участника.
// Диапазоны отсортированы по модульному порядку и не пересекаются.
type rangeSet struct {
	ranges []Range
}

// add регистрирует новый диапазон пропущенных версий [lower, upper].
// Соседние и пересекающиеся диапазоны объединяются.
func (s *rangeSet) add(lower, upper uint64) {
	if version.Less(upper, lower) {
		return
	}

	merged := Range{Lower: lower, Upper: upper}
	out := s.ranges[:0]
	for _, r := range s.ranges {
		switch {
		case version.Less(r.Upper+1, merged.Lower):
			// целиком до нового диапазона
			out = append(out, r)
		case version.Less(merged.Upper+1, r.Lower):
			// целиком после нового диапазона
			out = append(out, r)
		default:
			// пересечение или смежность: поглощаем
			if version.Less(r.Lower, merged.Lower) {
				merged.Lower = r.Lower
			}
			if version.Less(merged.Upper, r.Upper) {
				merged.Upper = r.Upper
			}
		}
	}

	// вставляем с сохранением порядка
	inserted := false
	final := make([]Range, 0, len(out)+1)
	for _, r := range out {
		if !inserted && version.Less(merged.Upper, r.Lower) {
			final = append(final, merged)
			inserted = true
		}
		final = append(final, r)
	}
	if !inserted {
		final = append(final, merged)
	}
	s.ranges = final
}

// contains возвращает true, если версия v входит в один из диапазонов.
func (s *rangeSet) contains(v uint64) bool {
	for _, r := range s.ranges {
		if version.LessEq(r.Lower, v) && version.LessEq(v, r.Upper) {
			return true
		}
	}
	return false
}

// fill отмечает версию v как полученную, сужая или разбивая
// содержащий ее диапазон.
func (s *rangeSet) fill(v uint64) {
	out := make([]Range, 0, len(s.ranges))
	for _, r := range s.ranges {
		if !version.LessEq(r.Lower, v) || !version.LessEq(v, r.Upper) {
			out = append(out, r)
			continue
		}
		if r.Lower == r.Upper {
			// диапазон закрыт полностью
			continue
		}
		switch v {
		case r.Lower:
			out = append(out, Range{Lower: r.Lower + 1, Upper: r.Upper})
		case r.Upper:
			out = append(out, Range{Lower: r.Lower, Upper: r.Upper - 1})
		default:
			out = append(out,
				Range{Lower: r.Lower, Upper: v - 1},
				Range{Lower: v + 1, Upper: r.Upper})
		}
	}
	s.ranges = out
}

// empty возвращает true, если пропущенных версий нет.
func (s *rangeSet) empty() bool {
	return len(s.ranges) == 0
}

// snapshot возвращает копию диапазонов.
func (s *rangeSet) snapshot() []Range {
	if len(s.ranges) == 0 {
		return nil
	}
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// RangesToAPI конвертирует диапазоны в wire-формат.
func RangesToAPI(ranges []Range) []api.Range {
	out := make([]api.Range, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, api.Range{Lower: r.Lower, Upper: r.Upper})
	}
	return out
}
