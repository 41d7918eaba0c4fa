package docker

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct{ stream, text string }

func collect(t *testing.T, data []byte, tty bool) []line {
	t.Helper()
	var got []line
	err := demux(bytes.NewReader(data), tty, func(stream, text string) {
		got = append(got, line{stream, text})
	})
	require.NoError(t, err)
	return got
}

func TestDemux_Multiplexed(t *testing.T) {
	var buf bytes.Buffer
	out := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	errw := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)

	_, _ = out.Write([]byte("2024-03-10T12:00:00.000000001Z starting\n2024-03-10T12:00:01Z ready"))
	_, _ = errw.Write([]byte("2024-03-10T12:00:02Z ERROR boom\r\n"))
	_, _ = out.Write([]byte(" and serving\n"))

	got := collect(t, buf.Bytes(), false)
	assert.Equal(t, []line{
		{"stdout", "2024-03-10T12:00:00.000000001Z starting"},
		{"stderr", "2024-03-10T12:00:02Z ERROR boom"},
		{"stdout", "2024-03-10T12:00:01Z ready and serving"},
	}, got)
}

func TestDemux_TTY(t *testing.T) {
	got := collect(t, []byte("one\n\ntwo\nthree"), true)
	assert.Equal(t, []line{{"stdout", "one"}, {"stdout", "two"}, {"stdout", "three"}}, got)
}

func TestNormalizeStats(t *testing.T) {
	var s types.StatsJSON
	s.CPUStats.CPUUsage.TotalUsage = 2_000_000_000
	s.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 2, 3, 4}
	s.CPUStats.SystemUsage = 10_000_000_000
	s.MemoryStats.Usage = 512
	s.MemoryStats.Limit = 1024
	s.MemoryStats.Stats = map[string]uint64{"cache": 64}
	s.Networks = map[string]types.NetworkStats{
		"eth0": {RxBytes: 10, TxBytes: 20, RxPackets: 1, TxPackets: 2},
		"eth1": {RxBytes: 5, TxBytes: 5},
	}
	s.BlkioStats.IoServiceBytesRecursive = []types.BlkioStatEntry{
		{Op: "Read", Value: 100},
		{Op: "write", Value: 50},
	}
	s.PidsStats.Current = 7

	raw := normalizeStats(s)
	assert.Equal(t, uint32(4), raw.OnlineCPUs)
	assert.Equal(t, uint64(2_000_000_000), raw.CPUUsage)
	assert.Equal(t, uint64(10_000_000_000), raw.SystemUsage)
	assert.Equal(t, uint64(64), raw.MemoryStats["cache"])
	assert.Len(t, raw.Networks, 2)
	assert.Len(t, raw.BlockIO, 2)
	assert.Equal(t, uint64(7), raw.Pids)
}

func TestContainerInfo(t *testing.T) {
	info := containerInfo("0123456789abcdef", []string{"/web-1"}, map[string]string{composeServiceLabel: "web"})
	assert.Equal(t, "web-1", info.Name)
	assert.Equal(t, "web", info.Service)

	info = containerInfo("0123456789abcdef", nil, nil)
	assert.Equal(t, "0123456789ab", info.Name)
	assert.Empty(t, info.Service)
}

func TestWrapNotFound(t *testing.T) {
	err := wrapNotFound("abc", errdefs.NotFound(fmt.Errorf("no such container")))
	assert.True(t, errors.Is(err, ErrNotFound))

	other := errors.New("timeout")
	assert.Equal(t, other, wrapNotFound("abc", other))
}
