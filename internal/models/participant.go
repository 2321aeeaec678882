package models

// ParticipantID уникальный идентификатор участника расписания (робот, дверь, лифт).
type ParticipantID uint64

// Responsiveness определяет, реагирует ли участник на конфликты трафика.
type Responsiveness int

const (
	// ResponsiveUnknown значение по умолчанию для нераспознанных описаний
	ResponsiveUnknown Responsiveness = iota
	// Responsive участник может пересматривать свой маршрут при конфликте
	Responsive
	// Unresponsive участник не реагирует на переговоры (например, ручное управление)
	Unresponsive
)

// String возвращает текстовое представление флага отзывчивости.
func (r Responsiveness) String() string {
	switch r {
	case Responsive:
		return "responsive"
	case Unresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}

// Profile представляет геометрический профиль участника.
// Ядро расписания не интерпретирует профиль: он передается оракулу
// конфликтов как есть.
type Profile struct {
	// Footprint радиус занимаемой площади в метрах
	Footprint float64 `json:"footprint" yaml:"footprint"`
}

// ParticipantDescription описывает участника расписания.
// Пара (Owner, Name) является ключом идентичности: повторная регистрация
// с тем же ключом возвращает ранее выданный ParticipantID.
type ParticipantDescription struct {
	Name           string         `json:"name" yaml:"name"`
	Owner          string         `json:"owner" yaml:"owner"`
	Responsiveness Responsiveness `json:"responsiveness" yaml:"responsiveness"`
	Profile        Profile        `json:"profile" yaml:"profile"`
}
