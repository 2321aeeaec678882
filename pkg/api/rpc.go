package api

// Результаты RequestChanges.
const (
	RequestChangesUnknownQueryID uint32 = 1
	RequestChangesAccepted       uint32 = 2
)

// RegisterParticipantRequest запрос регистрации участника.
// Повторная регистрация с той же парой (owner, name) возвращает
// ранее выданный идентификатор.
type RegisterParticipantRequest struct {
	Description ParticipantDescription `json:"description"`
}

// RegisterParticipantResponse ответ на регистрацию участника.
// Error пустая строка при успехе.
type RegisterParticipantResponse struct {
	ParticipantID        uint64 `json:"participant_id"`
	LastItineraryVersion uint64 `json:"last_itinerary_version"`
	LastRouteID          uint64 `json:"last_route_id"`
	Error                string `json:"error"`
}

// UnregisterParticipantRequest запрос удаления участника.
type UnregisterParticipantRequest struct {
	ParticipantID uint64 `json:"participant_id"`
}

// UnregisterParticipantResponse ответ на удаление участника.
type UnregisterParticipantResponse struct {
	Confirmation bool   `json:"confirmation"`
	Error        string `json:"error"`
}

// RegisterQueryRequest запрос регистрации фильтрованного представления.
type RegisterQueryRequest struct {
	Query Query `json:"query"`
}

// RegisterQueryResponse ответ на регистрацию запроса.
type RegisterQueryResponse struct {
	QueryID     uint64 `json:"query_id"`
	NodeVersion uint64 `json:"node_version"`
	Error       string `json:"error"`
}

// RequestChangesRequest запрос догоняющего обновления для зеркала.
// При FullUpdate=true узел отправит полный снимок состояния.
type RequestChangesRequest struct {
	QueryID    uint64 `json:"query_id"`
	Version    uint64 `json:"version"`
	FullUpdate bool   `json:"full_update"`
}

// RequestChangesResponse ответ на запрос догоняющего обновления.
type RequestChangesResponse struct {
	Result uint32 `json:"result"`
	Error  string `json:"error"`
}
