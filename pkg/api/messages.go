package api

// ItinerarySet полная замена итинерария участника.
type ItinerarySet struct {
	Participant      uint64  `json:"participant"`
	Itinerary        []Route `json:"itinerary"`
	ItineraryVersion uint64  `json:"itinerary_version"`
}

// ItineraryExtend добавление маршрутов в конец итинерария.
type ItineraryExtend struct {
	Participant      uint64  `json:"participant"`
	Routes           []Route `json:"routes"`
	ItineraryVersion uint64  `json:"itinerary_version"`
}

// ItineraryDelay сдвиг временной базы всех маршрутов участника.
type ItineraryDelay struct {
	Participant      uint64 `json:"participant"`
	DelayNanos       int64  `json:"delay"` // задержка в наносекундах, может быть отрицательной
	ItineraryVersion uint64 `json:"itinerary_version"`
}

// ItineraryErase удаление перечисленных маршрутов.
type ItineraryErase struct {
	Participant      uint64   `json:"participant"`
	Routes           []uint64 `json:"routes"`
	ItineraryVersion uint64   `json:"itinerary_version"`
}

// ItineraryClear удаление всех маршрутов участника.
type ItineraryClear struct {
	Participant      uint64 `json:"participant"`
	ItineraryVersion uint64 `json:"itinerary_version"`
}

// ScheduleInconsistency уведомление участника о пропущенных версиях.
// Участник должен повторно передать правки, покрывающие диапазоны.
type ScheduleInconsistency struct {
	Participant      uint64  `json:"participant"`
	Ranges           []Range `json:"ranges"`
	LastKnownVersion uint64  `json:"last_known_version"`
}

// MirrorUpdate патч для подписчиков одного запроса.
type MirrorUpdate struct {
	NodeVersion      uint64 `json:"node_version"`
	DatabaseVersion  uint64 `json:"database_version"`
	Patch            Patch  `json:"patch"`
	IsRemedialUpdate bool   `json:"is_remedial_update"`
}

// SingleParticipantInfo участник вместе с его идентификатором.
type SingleParticipantInfo struct {
	ID          uint64                 `json:"id"`
	Description ParticipantDescription `json:"description"`
}

// ParticipantsInfo широковещательный снимок всех участников.
type ParticipantsInfo struct {
	Participants []SingleParticipantInfo `json:"participants"`
}

// ScheduleQueries широковещательный снимок всех зарегистрированных запросов.
// Резервный узел использует его для восстановления реестра при фейловере.
type ScheduleQueries struct {
	NodeVersion uint64   `json:"node_version"`
	IDs         []uint64 `json:"ids"`
	Queries     []Query  `json:"queries"`
}

// ConflictNotice извещение о новом конфликте между участниками.
type ConflictNotice struct {
	ConflictVersion uint64   `json:"conflict_version"`
	Participants    []uint64 `json:"participants"`
}

// ConflictProposal предложение итинерария в переговорах.
type ConflictProposal struct {
	ConflictVersion uint64       `json:"conflict_version"`
	ForParticipant  uint64       `json:"for_participant"`
	ToAccommodate   []TableEntry `json:"to_accommodate"`
	Itinerary       []Route      `json:"itinerary"`
	ProposalVersion uint64       `json:"proposal_version"`
}

// ConflictRejection отклонение предложения с альтернативами отклонившего.
type ConflictRejection struct {
	ConflictVersion uint64       `json:"conflict_version"`
	Table           []TableEntry `json:"table"`
	RejectedBy      uint64       `json:"rejected_by"`
	Alternatives    [][]Route    `json:"alternatives"`
}

// ConflictForfeit отказ участника от данной ветки переговоров.
type ConflictForfeit struct {
	ConflictVersion uint64       `json:"conflict_version"`
	Table           []TableEntry `json:"table"`
}

// ConflictRefusal полный отказ участника от переговоров.
type ConflictRefusal struct {
	ConflictVersion uint64 `json:"conflict_version"`
}

// ConflictConclusion итог переговоров. При Resolved=true Table содержит
// выбранную последовательность предложений.
type ConflictConclusion struct {
	ConflictVersion uint64       `json:"conflict_version"`
	Resolved        bool         `json:"resolved"`
	Table           []TableEntry `json:"table,omitempty"`
}

// Acknowledgment подтверждение участником итога переговоров.
// При Updating=true участник обещает пересмотреть итинерарий
// начиная с ItineraryVersion.
type Acknowledgment struct {
	Participant      uint64 `json:"participant"`
	Updating         bool   `json:"updating"`
	ItineraryVersion uint64 `json:"itinerary_version"`
}

// ConflictAck пакет подтверждений итога переговоров.
type ConflictAck struct {
	ConflictVersion uint64           `json:"conflict_version"`
	Acknowledgments []Acknowledgment `json:"acknowledgments"`
}

// FailOverEvent маркер смены активного узла расписания.
type FailOverEvent struct{}

// Heartbeat периодический сигнал живости активного узла.
// Срок аренды равен периоду сердцебиения.
type Heartbeat struct {
	NodeVersion uint64 `json:"node_version"`
}
