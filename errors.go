// Copyright 2024 The Cockroach Authors
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

package indexmap

import "github.com/cockroachdb/errors"

// Misuse of a Map is reported by panicking with an error wrapping one of the
// following. Lookups never fail: absence is reported with ok=false.
var (
	// ErrIndexOutOfRange is the cause of panics raised when a position or
	// range is outside of a Map or Slice.
	ErrIndexOutOfRange = errors.New("indexmap: index out of range")
	// ErrStaleEntry is the cause of panics raised when a raw entry or an
	// EntryRef is used after its Map was structurally modified.
	ErrStaleEntry = errors.New("indexmap: stale entry")
)

func panicIndex(op string, i, n int) {
	panic(errors.Wrapf(ErrIndexOutOfRange, "%s: index %d with length %d", op, i, n))
}

func panicRange(op string, lo, hi, n int) {
	panic(errors.Wrapf(ErrIndexOutOfRange, "%s: range [%d:%d] with length %d", op, lo, hi, n))
}
