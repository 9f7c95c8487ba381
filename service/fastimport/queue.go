// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package fastimport

import (
	"sync"

	"github.com/gammazero/deque"
)

// resultQueue is a concurrency-safe double-ended queue carrying tile results
// from the conversion workers to the single writer thread, which drains it
// in completion order.
// NOTE: As specified in the original Deque documentation, concurrency
// safety is up to the consumer to provide.
// See https://github.com/gammazero/deque
type resultQueue struct {
	mutex *sync.Mutex
	deque *deque.Deque
}

func newResultQueue() *resultQueue {
	q := resultQueue{
		mutex: &sync.Mutex{},
		deque: deque.New(),
	}
	return &q
}

// Len returns the length of the queue.
func (q *resultQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.deque.Len()
}

// PushBack adds a result at the back of the queue.
func (q *resultQueue) PushBack(result *tileResult) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.deque.PushBack(result)
}

// PopFront removes and returns the result at the front of the queue, or nil
// when the queue is empty.
func (q *resultQueue) PopFront() *tileResult {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.deque.Len() == 0 {
		return nil
	}
	return q.deque.PopFront().(*tileResult)
}
