package sse

import "sync"

// hub раздаёт события запусков подписчикам по runID

const bufSize = 16

var (
	mu    sync.Mutex
	conns = map[string]map[chan string]struct{}{}
)

// Subscribe подписывает клиента на id, возвращает канал и функцию-unsubscribe
func Subscribe(id string) (chan string, func()) {
	ch := make(chan string, bufSize)

	mu.Lock()
	set := conns[id]
	if set == nil {
		set = map[chan string]struct{}{}
		conns[id] = set
	}
	set[ch] = struct{}{}
	mu.Unlock()

	cancel := func() {
		mu.Lock()
		defer mu.Unlock()
		if set, ok := conns[id]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(conns, id)
			}
		}
	}

	return ch, cancel
}

// Publish отсылает сообщение всем подписчикам runID
func Publish(id, msg string) {
	mu.Lock()
	list := make([]chan string, 0, len(conns[id]))
	for ch := range conns[id] {
		list = append(list, ch)
	}
	mu.Unlock()

	for _, ch := range list {
		select {
		case ch <- msg:
		default:
			// медленный подписчик: сообщение пропускается
		}
	}
}
