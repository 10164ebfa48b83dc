/*
Copyright © 2019 the Quadmesh authors.
This file is part of Quadmesh.

Quadmesh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Quadmesh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Quadmesh.  If not, see <http://www.gnu.org/licenses/>.
*/

package comm

import (
	"context"
	"sync"
)

type mailKey struct {
	src, tag int
}

// mailbox buffers incoming messages for one rank until they are received.
type mailbox struct {
	mu      sync.Mutex
	queues  map[mailKey][]interface{}
	waiters map[mailKey]chan struct{}
	aborted error
	done    chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		queues:  make(map[mailKey][]interface{}),
		waiters: make(map[mailKey]chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *mailbox) deliver(src, tag int, payload interface{}) {
	k := mailKey{src: src, tag: tag}
	m.mu.Lock()
	m.queues[k] = append(m.queues[k], payload)
	if w, ok := m.waiters[k]; ok {
		close(w)
		delete(m.waiters, k)
	}
	m.mu.Unlock()
}

func (m *mailbox) receive(ctx context.Context, src, tag int) (interface{}, error) {
	k := mailKey{src: src, tag: tag}
	for {
		m.mu.Lock()
		if m.aborted != nil {
			err := m.aborted
			m.mu.Unlock()
			return nil, err
		}
		if q := m.queues[k]; len(q) > 0 {
			v := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				m.queues[k] = q[1:]
			}
			m.mu.Unlock()
			return v, nil
		}
		w, ok := m.waiters[k]
		if !ok {
			w = make(chan struct{})
			m.waiters[k] = w
		}
		m.mu.Unlock()

		select {
		case <-w:
		case <-m.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// abort fails all current and future receives. Only the first reason is kept.
func (m *mailbox) abort(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted != nil {
		return
	}
	m.aborted = err
	close(m.done)
}
