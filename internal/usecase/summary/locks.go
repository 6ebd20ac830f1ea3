package summary

import (
	"context"
	"sync"
	"time"

	"discord-digest/internal/domain"
)

// KeyedLocker — взаимное исключение по ключу внутри процесса.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ domain.Locker = (*KeyedLocker)(nil)

// NewKeyedLocker создаёт пустой набор блокировок.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: map[string]struct{}{}}
}

// TryLock захватывает ключ без ожидания. ttl не используется: ключ держится до release.
func (l *KeyedLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}
