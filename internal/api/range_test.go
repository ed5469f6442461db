// SPDX-License-Identifier: MIT

package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = 100

	tests := []struct {
		name    string
		header  string
		want    byteRange
		wantErr bool
	}{
		{name: "absent header selects whole file", header: "", want: byteRange{0, 99}},
		{name: "explicit span", header: "bytes=0-9", want: byteRange{0, 9}},
		{name: "start beyond size is unsatisfiable", header: "bytes=1000-2000", wantErr: true},
		{name: "open-ended span", header: "bytes=50-", want: byteRange{50, 99}},
		{name: "suffix span", header: "bytes=-10", want: byteRange{90, 99}},
		{name: "oversized suffix clamps to whole file", header: "bytes=-500", want: byteRange{0, 99}},
		{name: "end clamps to size", header: "bytes=0-200", want: byteRange{0, 99}},
		{name: "inverted span is unsatisfiable", header: "bytes=30-20", wantErr: true},
		{name: "start equal to size is unsatisfiable", header: "bytes=100-", wantErr: true},
		{name: "malformed header ignored", header: "bytes=abc-def", want: byteRange{0, 99}},
		{name: "wrong unit ignored", header: "items=0-9", want: byteRange{0, 99}},
		{name: "multi-range ignored", header: "bytes=0-9,20-29", want: byteRange{0, 99}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRange(tc.header, size)
			if tc.wantErr {
				require.ErrorIs(t, err, errUnsatisfiable)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestByteRangeLength(t *testing.T) {
	require.Equal(t, int64(10), byteRange{0, 9}.length())
	require.Equal(t, int64(1), byteRange{42, 42}.length())
}
