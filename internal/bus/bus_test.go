package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemodctl/internal/change"
)

func TestPublishSubscriptionOrder(t *testing.T) {
	b := New()
	var got []string

	Subscribe(b, func(m RejectCase) error {
		got = append(got, "first:"+string(m.CaseHash))
		return nil
	})
	Subscribe(b, func(m RejectCase) error {
		got = append(got, "second:"+string(m.CaseHash))
		return nil
	})
	Subscribe(b, func(m AcceptCase) error {
		got = append(got, "accept")
		return nil
	})

	require.NoError(t, b.Publish(RejectCase{CaseHash: "c1"}))
	assert.Equal(t, []string{"first:c1", "second:c1"}, got)
}

func TestDispose(t *testing.T) {
	b := New()
	calls := 0
	dispose := Subscribe(b, func(ClearState) error {
		calls++
		return nil
	})

	require.NoError(t, b.Publish(ClearState{}))
	dispose()
	dispose()
	require.NoError(t, b.Publish(ClearState{}))
	assert.Equal(t, 1, calls)
}

func TestHandlerErrorStopsDelivery(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	reached := false

	Subscribe(b, func(AcceptCase) error { return boom })
	Subscribe(b, func(AcceptCase) error {
		reached = true
		return nil
	})

	err := b.Publish(AcceptCase{CaseHash: change.CaseHash("c")})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
}

func TestTapSeesEveryKind(t *testing.T) {
	b := New()
	var kinds []Kind
	b.Tap(func(m Message) error {
		kinds = append(kinds, m.Kind())
		return nil
	})

	require.NoError(t, b.Publish(ClearState{}))
	require.NoError(t, b.Publish(ShowProgress{ProgressKind: ProgressInfinite}))
	assert.Equal(t, []Kind{KindClearState, KindShowProgress}, kinds)
	assert.Equal(t, "showProgress", KindShowProgress.String())
}

func TestSubscribeDuringPublish(t *testing.T) {
	b := New()
	inner := 0
	Subscribe(b, func(ClearState) error {
		Subscribe(b, func(ClearState) error {
			inner++
			return nil
		})
		return nil
	})

	require.NoError(t, b.Publish(ClearState{}))
	assert.Equal(t, 0, inner)
	require.NoError(t, b.Publish(ClearState{}))
	assert.Equal(t, 1, inner)
}
