package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	m, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, 510, m)

	m, err = ParseClock(" 23:59 ")
	require.NoError(t, err)
	assert.Equal(t, EndOfDay, m)

	for _, bad := range []string{"", "8.30", "24:00", "12:61", "noon"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "08:05", FormatClock(485))
	assert.Equal(t, "09:43", formatSeconds(35000))
}

func TestNormalizeWindow(t *testing.T) {
	cases := []struct {
		name string
		in   Window
		want Window
	}{
		{"wide enough", Window{540, 600}, Window{540, 600}},
		{"open ended", Window{540, 540}, Window{540, EndOfDay}},
		{"too narrow", Window{540, 550}, Window{540, 570}},
		{"narrow near midnight", Window{1430, 1435}, Window{1430, EndOfDay}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeWindow(tc.in, 30)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := NormalizeWindow(Window{600, 540}, 30)
	assert.Error(t, err)
}
