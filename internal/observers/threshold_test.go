package observers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/fanout/internal/observer"
)

func change[N any](from, to N) observer.Message[observer.Change[N]] {
	return observer.Message[observer.Change[N]]{
		Topic:   "temp",
		Payload: observer.Change[N]{Old: from, New: to, HadOld: true},
	}
}

func TestThresholdAlert_FiresOnceOnCrossing(t *testing.T) {
	ctx := context.Background()
	s := observer.NewStateSubject[float64](0)
	defer s.Close()

	var notified []Alert[float64]
	alert := NewThresholdAlert("temp-high", func(_ context.Context, a Alert[float64]) error {
		notified = append(notified, a)
		return nil
	}, WithHigh(15.0))

	h := observer.Spawn[observer.Change[float64]](ctx, alert)
	defer func() {
		h.Stop()
		<-h.Done()
	}()
	require.NoError(t, s.Subscribe(h, observer.Topics("temp")))

	for _, v := range []float64{10, 20, 20} {
		_, err := s.Update(ctx, "temp", v)
		require.NoError(t, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.WaitIdle(waitCtx))

	alerts := alert.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, observer.Topic("temp"), alerts[0].Topic)
	require.Equal(t, CrossedAbove, alerts[0].Crossing)
	require.Equal(t, 15.0, alerts[0].Threshold)
	require.Equal(t, 10.0, alerts[0].Old)
	require.Equal(t, 20.0, alerts[0].New)
	require.Equal(t, alerts, notified)
}

func TestThresholdAlert_Crossings(t *testing.T) {
	tests := []struct {
		name     string
		opts     []ThresholdOption[int]
		from, to int
		want     []Crossing
	}{
		{name: "rise to high", opts: []ThresholdOption[int]{WithHigh(15)}, from: 10, to: 15, want: []Crossing{CrossedAbove}},
		{name: "stays above", opts: []ThresholdOption[int]{WithHigh(15)}, from: 20, to: 30},
		{name: "stays below", opts: []ThresholdOption[int]{WithHigh(15)}, from: 1, to: 14},
		{name: "falls without recovery", opts: []ThresholdOption[int]{WithHigh(15)}, from: 20, to: 10},
		{name: "falls with recovery", opts: []ThresholdOption[int]{WithHigh(15), WithRecovery[int]()}, from: 20, to: 10, want: []Crossing{Recovered}},
		{name: "drop to low", opts: []ThresholdOption[int]{WithLow(5)}, from: 6, to: 5, want: []Crossing{CrossedBelow}},
		{name: "low recovery", opts: []ThresholdOption[int]{WithLow(5), WithRecovery[int]()}, from: 2, to: 9, want: []Crossing{Recovered}},
		{name: "jump across both", opts: []ThresholdOption[int]{WithHigh(15), WithLow(5)}, from: 20, to: 0, want: []Crossing{CrossedBelow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewThresholdAlert("test", nil, tt.opts...)
			require.NoError(t, a.HandleNotification(context.Background(), change(tt.from, tt.to)))

			var got []Crossing
			for _, al := range a.Alerts() {
				got = append(got, al.Crossing)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestThresholdAlert_IgnoresFirstValue(t *testing.T) {
	a := NewThresholdAlert[float64]("test", nil, WithHigh(15.0))
	msg := observer.Message[observer.Change[float64]]{
		Topic:   "temp",
		Payload: observer.Change[float64]{New: 99},
	}
	require.NoError(t, a.HandleNotification(context.Background(), msg))
	require.Empty(t, a.Alerts())
}

func TestThresholdAlert_NotifyError(t *testing.T) {
	boom := errors.New("pager down")
	a := NewThresholdAlert("pager", func(context.Context, Alert[int]) error { return boom }, WithHigh(10))

	err := a.HandleNotification(context.Background(), change(1, 11))
	require.ErrorIs(t, err, boom)
	require.Len(t, a.Alerts(), 1)
}
