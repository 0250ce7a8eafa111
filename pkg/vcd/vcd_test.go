package vcd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logicsniffer/pkg/signals"
)

func testRegistry(t *testing.T) *signals.Registry {
	t.Helper()
	reg := signals.NewRegistry()
	_, err := reg.Add("clk", []int{0})
	require.NoError(t, err)
	_, err = reg.Add("bus", []int{1, 2})
	require.NoError(t, err)
	return reg
}

const expectedDump = `$date
  Fri Jan  2 03:04:05 2026
$end
$version
  test
$end
$comment
  Sample rate 1000000 Hz
  Number of samples 5
  Trigger clk=1
$end
$timescale 1000ns $end
$scope module logic $end
$var wire 1 ! clk $end
$var wire 2 " bus $end
$var event 1 trigg sniffer_trigger $end
$upscope $end
$enddefinitions $end
$dumpvars
0!
b00 "
$end
#1
1!
#2
1trigg
#3
b11 "
#4
0!
`

func TestDump(t *testing.T) {
	reg := testRegistry(t)
	// newest sample first
	buf := []byte{0x06, 0x07, 0x01, 0x01, 0x00}
	var out bytes.Buffer
	err := Dump(&out, reg, Options{
		SampleRate: 1000000,
		Holdoff:    2,
		Trigger:    "clk=1",
		Version:    "test",
		Date:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, buf)
	require.NoError(t, err)
	assert.Equal(t, expectedDump, out.String())
}

func TestDumpWithoutTrigger(t *testing.T) {
	reg := testRegistry(t)
	var out bytes.Buffer
	require.NoError(t, Dump(&out, reg, Options{SampleRate: 100}, []byte{0x00, 0x00, 0x00}))
	s := out.String()
	assert.NotContains(t, s, "trigg")
	assert.Contains(t, s, "$timescale 10000us $end")
	assert.Contains(t, s, "$version\n  "+DefaultVersion)
	// the final sample is always written
	assert.Contains(t, s, "$end\n#2\n")
}

func TestTriggerAtFirstSample(t *testing.T) {
	reg := testRegistry(t)
	var out bytes.Buffer
	require.NoError(t, Dump(&out, reg, Options{SampleRate: 1000, Trigger: "clk=0"}, []byte{0, 0}))
	assert.Contains(t, out.String(), "$dumpvars\n0!\nb00 \"\n$end\n#0\n1trigg\n#1\n")
}

func TestTimescale(t *testing.T) {
	tests := map[uint32]string{
		200000000: "5000ps",
		100000000: "10000ps",
		3000000:   "333333ps",
		1000000:   "1000ns",
		2000:      "500000ns",
		1000:      "1000us",
		10:        "100000us",
	}
	for rate, want := range tests {
		assert.Equal(t, want, Timescale(rate), "rate %d", rate)
	}
}

func TestUnpack(t *testing.T) {
	// groups 0, 1 and 3 enabled, two samples, newest first
	buf := []byte{0x11, 0x22, 0x44, 0xAA, 0xBB, 0xDD}
	got := Unpack(buf, 0xFF00FFFF)
	assert.Equal(t, []uint32{0xDD00BBAA, 0x44002211}, got)
	assert.Nil(t, Unpack(buf, 0))
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "!", Identifier(0))
	assert.Equal(t, "\"", Identifier(1))
	assert.Equal(t, "@", Identifier(31))
}
