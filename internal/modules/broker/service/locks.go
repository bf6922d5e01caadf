package service

import "sync"

// TicketLocks: не более одной операции (размещение/закрытие) на тикет одновременно.
type TicketLocks struct {
	mu    sync.Mutex
	locks map[string]*ticketLock
}

type ticketLock struct {
	mu   sync.Mutex
	refs int
}

func NewTicketLocks() *TicketLocks {
	return &TicketLocks{locks: make(map[string]*ticketLock)}
}

// Lock берёт лок тикета и возвращает функцию освобождения.
func (t *TicketLocks) Lock(ticket string) func() {
	t.mu.Lock()
	l, ok := t.locks[ticket]
	if !ok {
		l = &ticketLock{}
		t.locks[ticket] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, ticket)
		}
		t.mu.Unlock()
	}
}

// Size: сколько тикетов сейчас залочено или ждут лока.
func (t *TicketLocks) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
