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

package tree_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/optakt/voyager/tree"
)

func TestReturnHoldsItsValue(t *testing.T) {
	tr := tree.Return(7)
	assert.Equal(t, tree.KindReturn, tr.Kind())
	assert.Equal(t, 7, tr.Value())
}

func TestNullCarriesNoValue(t *testing.T) {
	tr := tree.Null()
	assert.Equal(t, tree.KindNull, tr.Kind())
}

func TestChoiceForcesBranchesLazily(t *testing.T) {
	forced := false
	tr := tree.Choice(
		func() tree.Tree { return tree.Return(1) },
		func() tree.Tree {
			forced = true
			return tree.Return(2)
		},
	)
	assert.False(t, forced, "constructing a Choice must not force either branch")

	assert.Equal(t, 1, tr.Left().Value())
	assert.False(t, forced, "forcing Left must not force Right")

	assert.Equal(t, 2, tr.Right().Value())
	assert.True(t, forced)
}

func TestRightThunkDoesNotForceUntilCalled(t *testing.T) {
	forced := false
	tr := tree.Choice(
		func() tree.Tree { return tree.Return(1) },
		func() tree.Tree {
			forced = true
			return tree.Return(2)
		},
	)

	thunk := tr.RightThunk()
	assert.False(t, forced)
	assert.Equal(t, 2, thunk().Value())
	assert.True(t, forced)
}

func TestYieldContinuationResumesTheProgram(t *testing.T) {
	tr := tree.Yield(func() tree.Tree { return tree.Return(9) })
	assert.Equal(t, tree.KindYield, tr.Kind())
	assert.Equal(t, 9, tr.YieldContinuation().Value())
}

func TestCacheRunsEffectAndAppliesContinuation(t *testing.T) {
	tr := tree.Cache(
		func() (interface{}, bool) { return []byte("hi"), true },
		func(data []byte) (interface{}, error) { return string(data), nil },
		func(v interface{}) tree.Tree { return tree.Return(v) },
	)

	assert.Equal(t, tree.KindCache, tr.Kind())
	value, ok := tr.Effect()()
	assert.True(t, ok)
	assert.Equal(t, []byte("hi"), value)

	result := tr.CacheContinuation(value)
	assert.Equal(t, []byte("hi"), result.Value())
}

func TestCacheDecodeReconstructsCachedValue(t *testing.T) {
	tr := tree.Cache(
		func() (interface{}, bool) { return nil, false },
		func(data []byte) (interface{}, error) { return string(data), nil },
		func(v interface{}) tree.Tree { return tree.Return(v) },
	)

	decoded, err := tr.Decode()([]byte("replayed"))
	assert.NoError(t, err)
	assert.Equal(t, "replayed", decoded)
}

func TestAccessorsPanicOnTheWrongKind(t *testing.T) {
	tr := tree.Return(1)

	assert.Panics(t, func() { tr.Left() })
	assert.Panics(t, func() { tr.Right() })
	assert.Panics(t, func() { tr.RightThunk() })
	assert.Panics(t, func() { tr.Effect() })
	assert.Panics(t, func() { tr.Decode() })
	assert.Panics(t, func() { tr.CacheContinuation(nil) })
	assert.Panics(t, func() { tr.YieldContinuation() })

	assert.Panics(t, func() { tree.Null().Value() })
}

func TestKindStringCoversEveryKindAndTheInvalidCase(t *testing.T) {
	cases := map[tree.Kind]string{
		tree.KindReturn: "return",
		tree.KindNull:   "null",
		tree.KindCache:  "cache",
		tree.KindChoice: "choice",
		tree.KindYield:  "yield",
		tree.Kind(99):   "invalid",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestDecodeErrorIsReturnedToTheCaller(t *testing.T) {
	boom := errors.New("boom")
	tr := tree.Cache(
		func() (interface{}, bool) { return nil, false },
		func([]byte) (interface{}, error) { return nil, boom },
		func(v interface{}) tree.Tree { return tree.Return(v) },
	)
	_, err := tr.Decode()([]byte("x"))
	assert.ErrorIs(t, err, boom)
}
