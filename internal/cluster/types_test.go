package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDemote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   int
		want int
	}{
		{name: "default", in: DefaultPriority, want: DefaultPriority + PriorityStep},
		{name: "negative", in: -3, want: -3 + PriorityStep},
		{name: "min", in: math.MinInt, want: math.MinInt + PriorityStep},
		{name: "below max", in: math.MaxInt - PriorityStep, want: math.MaxInt},
		{name: "saturates", in: math.MaxInt, want: math.MaxInt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Demote(tc.in))
		})
	}
}
