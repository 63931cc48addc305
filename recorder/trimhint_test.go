package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShowinfoPTSRegexExtractsFirstMatch(t *testing.T) {
	line := "[Parsed_showinfo_2 @ 0x7f9b1c0048c0] n:   4 pts:  13 pts_time:1.3 duration: 0.1"
	m := showinfoPTS.FindStringSubmatch(line)
	require.NotNil(t, m)
	require.Equal(t, "1.3", m[1])
}

func TestShowinfoPTSRegexNoMatch(t *testing.T) {
	m := showinfoPTS.FindStringSubmatch("some unrelated ffmpeg log line")
	require.Nil(t, m)
}
