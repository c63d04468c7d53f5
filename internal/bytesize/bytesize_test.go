package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"65536", 65536},
		{"100B", 100},
		{"4MiB", 4 * MiB},
		{"4mi", 4 * MiB},
		{"512KiB", 512 * KiB},
		{"1.5K", 1500},
		{"2 MB", 2 * MB},
		{"1GiB", GiB},
		{"  8ki  ", 8 * KiB},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "MiB", "-1", "4XB", "1.2.3K", "four"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, size := range []ByteSize{0, 100, 4 * MiB, 1536 * KiB, 3 * GiB, 1500} {
		text, err := size.MarshalText()
		require.NoError(t, err)

		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, size, back, "via %q", text)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "4MiB", (4 * MiB).String())
	assert.Equal(t, "1536KiB", (1536 * KiB).String())
	assert.Equal(t, "1500B", ByteSize(1500).String())
	assert.Equal(t, "0B", ByteSize(0).String())
}

func TestHuman(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).Human())
	assert.Equal(t, "1.50KiB", (1536 * B).Human())
	assert.Equal(t, "4.00MiB", (4 * MiB).Human())
	assert.Equal(t, "2.00GiB", (2 * GiB).Human())
}
