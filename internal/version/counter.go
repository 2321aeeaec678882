package version

import "sync"

// Counter представляет потокобезопасный монотонный счетчик версий.
// Используется для выделения версий переговоров.
type Counter struct {
	value uint64     // текущее значение счетчика
	mu    sync.Mutex // мьютекс для потокобезопасности
}

// NewCounter создает новый счетчик, начинающийся с заданного значения.
// Следующий вызов Next вернет seed + 1.
func NewCounter(seed uint64) *Counter {
	return &Counter{value: seed}
}

// Next увеличивает счетчик и возвращает новое значение.
func (c *Counter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value++
	return c.value
}

// Current возвращает текущее значение счетчика без его изменения.
func (c *Counter) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.value
}

// Observe обновляет счетчик до удаленного значения, если оно новее
// в модульном порядке. Используется при восстановлении состояния.
func (c *Counter) Observe(remote uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if Less(c.value, remote) {
		c.value = remote
	}
}
