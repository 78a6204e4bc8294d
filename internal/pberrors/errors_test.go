package pberrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesOnKindOnly(t *testing.T) {
	err := New(KindConflict, "lost compare-and-set for trace %s", "tr_1")

	assert.True(t, errors.Is(err, New(KindConflict, "different message")))
	assert.False(t, errors.Is(err, New(KindInternal, "different message")))
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(KindStoreUnavailable, cause, "hot store unreachable")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
}

func TestKindOf_NonPbErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
}

func TestIsKind(t *testing.T) {
	err := New(KindRateLimited, "entitlement denied")
	assert.True(t, IsKind(err, KindRateLimited))
	assert.False(t, IsKind(err, KindNoSuchBar))
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{
		KindNoSuchBar:        "no_such_bar",
		KindSchemaDrift:      "schema_drift",
		KindValidationError:  "validation_error",
		KindConflict:         "conflict",
		KindRateLimited:      "rate_limited",
		KindStoreUnavailable: "store_unavailable",
		KindInternal:         "internal",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
