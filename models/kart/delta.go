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

package kart

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"
)

// DeltaType classifies a delta by which sides are present.
type DeltaType int

const (
	DeltaInsert DeltaType = iota + 1
	DeltaUpdate
	DeltaDelete
)

func (t DeltaType) String() string {
	switch t {
	case DeltaInsert:
		return "insert"
	case DeltaUpdate:
		return "update"
	case DeltaDelete:
		return "delete"
	default:
		return "invalid"
	}
}

// DeltaFlags carry extra information about a delta. Flags are OR-combined
// when deltas are concatenated.
type DeltaFlags uint8

const (
	// WorkingCopyEdit marks a delta that represents a change made in the
	// working copy - it is "dirty".
	WorkingCopyEdit DeltaFlags = 0x1
	// BinaryFile marks a delta that is a change to a binary file.
	BinaryFile DeltaFlags = 0x2
)

// Value holds one side's contents for a delta. The contents can be deferred
// behind a callback, in which case they are computed on first access and
// memoized under a once-lock. This bounds memory when diffing millions of
// items, since the consumer decides which values to materialize.
type Value struct {
	val       interface{}
	fn        func() (interface{}, error)
	once      *sync.Once
	err       error
	immediate bool
}

// NewValue returns a value with immediate contents.
func NewValue(contents interface{}) *Value {
	v := Value{
		val:       contents,
		immediate: true,
	}
	return &v
}

// DeferredValue returns a value whose contents are computed by the given
// callback on first access.
func DeferredValue(fn func() (interface{}, error)) *Value {
	v := Value{
		fn:   fn,
		once: &sync.Once{},
	}
	return &v
}

// Get returns the value's contents, computing and memoizing them if deferred.
func (v *Value) Get() (interface{}, error) {
	if v.immediate {
		return v.val, nil
	}
	v.once.Do(func() {
		v.val, v.err = v.fn()
		v.fn = nil
	})
	return v.val, v.err
}

// Materialized reports whether the contents are available without running a
// decoder - either because they were immediate, or because a consumer has
// already asked for them.
func (v *Value) Materialized() bool {
	return v.immediate || v.fn == nil
}

// KeyValue is a key-value pair. A delta is made of two of these - one old,
// one new. The key identifies which object changed (a meta item name, a
// primary key, a tile name), and the value is the object's entire contents.
type KeyValue struct {
	Key   string
	Value *Value
}

// NewKeyValue returns a key-value pair with immediate contents.
func NewKeyValue(key string, contents interface{}) *KeyValue {
	kv := KeyValue{
		Key:   key,
		Value: NewValue(contents),
	}
	return &kv
}

// NewLazyKeyValue returns a key-value pair whose contents are computed on
// first access.
func NewLazyKeyValue(key string, fn func() (interface{}, error)) *KeyValue {
	kv := KeyValue{
		Key:   key,
		Value: DeferredValue(fn),
	}
	return &kv
}

// Delta describes an object changing from old to new. Either old or new can
// be nil, for insert or delete operations. If the old key differs from the
// new key, the object moved, which makes the delta a rename. Renames are
// otherwise treated as delete+insert throughout the engine; concatenation
// never follows a key across a rename.
type Delta struct {
	Old   *KeyValue
	New   *KeyValue
	Flags DeltaFlags
}

// NewDelta returns a delta from old to new. At least one side must be
// present.
func NewDelta(old *KeyValue, new *KeyValue) (*Delta, error) {
	if old == nil && new == nil {
		return nil, NewInvalidArgument("empty delta")
	}
	d := Delta{
		Old: old,
		New: new,
	}
	return &d, nil
}

// Insert returns a delta that only has a new side.
func Insert(new *KeyValue) *Delta {
	return &Delta{New: new}
}

// Update returns a delta with both sides present.
func Update(old *KeyValue, new *KeyValue) *Delta {
	return &Delta{Old: old, New: new}
}

// Delete returns a delta that only has an old side.
func Delete(old *KeyValue) *Delta {
	return &Delta{Old: old}
}

// MaybeUpdate returns an update delta from old to new, or nil when the two
// values are equal. Comparing the values materializes them.
func MaybeUpdate(old *KeyValue, new *KeyValue) (*Delta, error) {
	oldContents, err := old.Value.Get()
	if err != nil {
		return nil, fmt.Errorf("could not materialize old value: %w", err)
	}
	newContents, err := new.Value.Get()
	if err != nil {
		return nil, fmt.Errorf("could not materialize new value: %w", err)
	}
	if contentsEqual(oldContents, newContents) && old.Key == new.Key {
		return nil, nil
	}
	return Update(old, new), nil
}

// Type derives the delta type from which sides are present.
func (d *Delta) Type() DeltaType {
	switch {
	case d.Old == nil:
		return DeltaInsert
	case d.New == nil:
		return DeltaDelete
	default:
		return DeltaUpdate
	}
}

// OldKey returns the old side's key, or the empty string.
func (d *Delta) OldKey() string {
	if d.Old == nil {
		return ""
	}
	return d.Old.Key
}

// NewKey returns the new side's key, or the empty string.
func (d *Delta) NewKey() string {
	if d.New == nil {
		return ""
	}
	return d.New.Key
}

// Key returns the single key a delta is stored under in a diff. The old key
// wins when both sides are present, which is imperfect for renames, but
// renames are modelled as delete+insert anyway.
func (d *Delta) Key() string {
	if d.Old != nil {
		return d.Old.Key
	}
	return d.New.Key
}

// IsRename reports whether both sides are present with different keys.
func (d *Delta) IsRename() bool {
	return d.Type() == DeltaUpdate && d.OldKey() != d.NewKey()
}

// Invert returns the delta with old and new swapped.
func (d *Delta) Invert() *Delta {
	inv := Delta{
		Old:   d.New,
		New:   d.Old,
		Flags: d.Flags,
	}
	return &inv
}

// Concat concatenates this delta with the subsequent delta and returns the
// result as a single delta. A nil result with a nil error means the two
// deltas cancel out. This assumes the deltas are related, ie that this
// delta's new side matches the other delta's old side - don't concatenate
// arbitrary deltas together.
func (d *Delta) Concat(other *Delta) (*Delta, error) {

	var result *Delta
	var err error
	switch d.Type() {

	case DeltaInsert:
		// ins + ins -> conflict
		// ins + upd -> ins
		// ins + del -> noop
		switch other.Type() {
		case DeltaInsert:
			return nil, fmt.Errorf("%w: insert + insert (key: %s)", ErrConflict, d.Key())
		case DeltaUpdate:
			result = Insert(other.New)
		case DeltaDelete:
			result = nil
		}

	case DeltaUpdate:
		// upd + ins -> conflict
		// upd + upd -> upd?
		// upd + del -> del
		switch other.Type() {
		case DeltaInsert:
			return nil, fmt.Errorf("%w: update + insert (key: %s)", ErrConflict, d.Key())
		case DeltaUpdate:
			result, err = MaybeUpdate(d.Old, other.New)
			if err != nil {
				return nil, err
			}
		case DeltaDelete:
			result = Delete(d.Old)
		}

	case DeltaDelete:
		// del + ins -> upd?
		// del + del -> conflict
		// del + upd -> conflict
		switch other.Type() {
		case DeltaInsert:
			result, err = MaybeUpdate(d.Old, other.New)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: delete + %s (key: %s)", ErrConflict, other.Type(), d.Key())
		}
	}

	if result != nil {
		result.Flags = d.Flags | other.Flags
	}
	return result, nil
}

func contentsEqual(a interface{}, b interface{}) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok && bok {
		return bytes.Equal(ab, bb)
	}
	return reflect.DeepEqual(a, b)
}
