// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ccutils

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// ------------------------------------------------

type windowNumber interface {
	int64 | uint64 | float64
}

// WindowReducer collapses a full batch of samples into one representative value.
// Samples are passed in insertion order and must not be retained.
type WindowReducer[T windowNumber] func(samples []T) T

func ReduceMin[T windowNumber](samples []T) T {
	lowest := samples[0]
	for _, s := range samples[1:] {
		if s < lowest {
			lowest = s
		}
	}
	return lowest
}

func ReduceMax[T windowNumber](samples []T) T {
	highest := samples[0]
	for _, s := range samples[1:] {
		if s > highest {
			highest = s
		}
	}
	return highest
}

func ReduceSum[T windowNumber](samples []T) T {
	var sum T
	for _, s := range samples {
		sum += s
	}
	return sum
}

func Mean[T windowNumber](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

// ------------------------------------------------

type WindowParams[T windowNumber] struct {
	Name     string
	Capacity int
	Reducer  WindowReducer[T]
}

// Window accumulates fixed size batches of samples in a ring buffer.
// When a batch completes, it is reduced and cleared in the same Push.
// The reduced value stays visible until the next batch completes.
type Window[T windowNumber] struct {
	params WindowParams[T]

	ring  []T
	head  int
	count int

	// scratch holds the batch in insertion order for the reducer
	scratch []T

	value       T
	ready       bool
	generations int
}

func NewWindow[T windowNumber](params WindowParams[T]) (*Window[T], error) {
	if params.Capacity <= 0 {
		return nil, fmt.Errorf("window %s: capacity must be positive, got %d", params.Name, params.Capacity)
	}
	if params.Reducer == nil {
		return nil, fmt.Errorf("window %s: reducer is required", params.Name)
	}

	return &Window[T]{
		params:  params,
		ring:    make([]T, params.Capacity),
		scratch: make([]T, params.Capacity),
	}, nil
}

// Push adds a sample. It returns the reduced value and true when this sample completed a batch.
func (w *Window[T]) Push(sample T) (T, bool) {
	w.ring[(w.head+w.count)%len(w.ring)] = sample
	w.count++
	if w.count < len(w.ring) {
		var zero T
		return zero, false
	}

	for i := 0; i < w.count; i++ {
		w.scratch[i] = w.ring[(w.head+i)%len(w.ring)]
	}
	w.value = w.params.Reducer(w.scratch[:w.count])
	w.ready = true
	w.generations++

	w.head = (w.head + w.count) % len(w.ring)
	w.count = 0
	return w.value, true
}

// Value returns the last reduced value and whether any batch has completed.
func (w *Window[T]) Value() (T, bool) {
	return w.value, w.ready
}

func (w *Window[T]) IsReady() bool {
	return w.ready
}

// Len is the number of samples in the current, incomplete batch.
func (w *Window[T]) Len() int {
	return w.count
}

func (w *Window[T]) Capacity() int {
	return len(w.ring)
}

// Generations counts completed batches.
func (w *Window[T]) Generations() int {
	return w.generations
}

// Clear drops the pending batch. The last reduced value is kept.
func (w *Window[T]) Clear() {
	w.head = (w.head + w.count) % len(w.ring)
	w.count = 0
}

func (w *Window[T]) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if w == nil {
		return nil
	}

	e.AddString("name", w.params.Name)
	e.AddInt("capacity", len(w.ring))
	e.AddInt("pending", w.count)
	e.AddBool("ready", w.ready)
	e.AddString("value", fmt.Sprintf("%v", w.value))
	e.AddInt("generations", w.generations)
	return nil
}
