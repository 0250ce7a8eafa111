package config

import (
	"reflect"
	"strconv"
	"testing"

	"logicsniffer/pkg/signals"
)

func TestParseBaudrate(t *testing.T) {
	for _, b := range Baudrates {
		got, err := ParseBaudrate(" " + strconv.Itoa(b))
		if err != nil || got != b {
			t.Errorf("ParseBaudrate(%d) = %d, %v", b, got, err)
		}
	}
	for _, bad := range []string{"9600", "fast", ""} {
		if _, err := ParseBaudrate(bad); err == nil {
			t.Errorf("ParseBaudrate(%q) should fail", bad)
		}
	}
}

func TestParseSampleRate(t *testing.T) {
	good := map[string]uint32{
		"100M":      100000000,
		"200M":      200000000,
		"1k":        1000,
		"12345":     12345,
		"0x100":     256,
		"200000000": 200000000,
	}
	for text, want := range good {
		got, err := ParseSampleRate(text)
		if err != nil || got != want {
			t.Errorf("ParseSampleRate(%q) = %d, %v", text, got, err)
		}
	}
	for _, bad := range []string{"0", "-1k", "201M", "fastM", "10G"} {
		if _, err := ParseSampleRate(bad); err == nil {
			t.Errorf("ParseSampleRate(%q) should fail", bad)
		}
	}
}

func TestParseChannelList(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"3", []int{3}},
		{"0-3", []int{0, 1, 2, 3}},
		{"3-0", []int{3, 2, 1, 0}},
		{"0, 2,4-6", []int{0, 2, 4, 5, 6}},
		{"5-5", []int{5}},
	}
	for _, tt := range tests {
		got, err := ParseChannelList(tt.in)
		if err != nil || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseChannelList(%q) = %v, %v", tt.in, got, err)
		}
	}
	for _, bad := range []string{"", "1,,2", "a", "1-", "-1", "1-x"} {
		if _, err := ParseChannelList(bad); err == nil {
			t.Errorf("ParseChannelList(%q) should fail", bad)
		}
	}
}

func TestParseSignal(t *testing.T) {
	name, ch, err := ParseSignal("addr:19-16")
	if err != nil || name != "addr" || !reflect.DeepEqual(ch, []int{19, 18, 17, 16}) {
		t.Errorf("ParseSignal = %q %v %v", name, ch, err)
	}
	for _, bad := range []string{"addr", "9x:1", ":1", "a b:1", "ok:"} {
		if _, _, err := ParseSignal(bad); err == nil {
			t.Errorf("ParseSignal(%q) should fail", bad)
		}
	}
}

func TestAddSignals(t *testing.T) {
	reg := signals.NewRegistry()
	if err := AddSignals(reg, []string{"data:0-7", "clk:8"}); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 2 {
		t.Errorf("Len = %d", reg.Len())
	}
	if err := AddSignals(reg, []string{"clk:9"}); err == nil {
		t.Error("redefining a signal should fail")
	}
}

func TestParseSplit(t *testing.T) {
	const capacity = 6144
	const rate = 100000000
	tests := []struct {
		in   string
		want int
	}{
		{"0%", 0},
		{"50%", 3072},
		{"100%", capacity},
		{"1000", 1000},
		{"10us", 1000},
		{"1ms", 100000},
		{"20ns", 2},
		{"0.5s", 50000000},
	}
	for _, tt := range tests {
		got, err := ParseSplit(tt.in, capacity, rate)
		if err != nil || got != tt.want {
			t.Errorf("ParseSplit(%q) = %d, %v, want %d", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"-5%", "ten", "5min", ""} {
		if _, err := ParseSplit(bad, capacity, rate); err == nil {
			t.Errorf("ParseSplit(%q) should fail", bad)
		}
	}
}
