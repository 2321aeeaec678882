// Package registry определяет хранилище привязок участников:
// пара (owner, name) к выданному ParticipantID. Это единственное
// персистентное состояние узла расписания; содержимое самого
// расписания эфемерно.
package registry

import (
	"context"
	"errors"

	"github.com/iudanet/fleetsched/internal/models"
)

// Common registry errors
var (
	// ErrCorruptRegistry indicates that the persisted registry could not
	// be parsed; the schedule node must refuse to start
	ErrCorruptRegistry = errors.New("corrupt participant registry")
)

// Registration привязка участника к идентификатору.
type Registration struct {
	ID          models.ParticipantID
	Description models.ParticipantDescription
}

// Store персистентное хранилище привязок участников.
type Store interface {
	// AddOrRetrieve возвращает привязку для описания. Повторная
	// регистрация с тем же ключом (owner, name) возвращает ранее
	// выданный идентификатор и обновляет описание.
	// Второе значение true, если привязка создана впервые.
	AddOrRetrieve(ctx context.Context, desc models.ParticipantDescription) (Registration, bool, error)

	// All возвращает все привязки. Используется при старте узла
	// для восстановления базы.
	All(ctx context.Context) ([]Registration, error)

	// Close освобождает ресурсы хранилища.
	Close() error
}
