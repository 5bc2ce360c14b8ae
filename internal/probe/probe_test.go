package probe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestData(t *testing.T, filename string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", filename))
	require.NoError(t, err)
	return data
}

func TestParseOutputFullVideo(t *testing.T) {
	meta, err := parseOutput(loadTestData(t, "video_mp4.json"))
	require.NoError(t, err)

	require.NotNil(t, meta.FormatName)
	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", *meta.FormatName)

	require.NotNil(t, meta.DurationSec)
	assert.InDelta(t, 10.433333, *meta.DurationSec, 1e-6)

	require.NotNil(t, meta.BitRate)
	assert.Equal(t, int64(4021777), *meta.BitRate)

	require.NotNil(t, meta.SizeBytes)
	assert.Equal(t, int64(5242880), *meta.SizeBytes)

	require.NotNil(t, meta.CodecName)
	assert.Equal(t, "h264", *meta.CodecName)

	assert.Equal(t, "1920x1080", meta.Resolution())

	require.NotNil(t, meta.FrameRate)
	assert.InDelta(t, 29.97, *meta.FrameRate, 0.01)

	require.NotNil(t, meta.PixelFormat)
	assert.Equal(t, "yuv420p", *meta.PixelFormat)

	require.NotNil(t, meta.CreationTime)
	assert.Equal(t, "2026-01-12T08:45:31.000000Z", *meta.CreationTime)
}

func TestParseOutputDeviceTags(t *testing.T) {
	meta, err := parseOutput(loadTestData(t, "video_mp4.json"))
	require.NoError(t, err)

	require.NotNil(t, meta.DeviceMake)
	assert.Equal(t, "Apple", *meta.DeviceMake)
	require.NotNil(t, meta.DeviceModel)
	assert.Equal(t, "iPhone 14 Pro", *meta.DeviceModel)
	require.NotNil(t, meta.GPSRaw)
	assert.Equal(t, "+18.4437+073.8858+671.001/", *meta.GPSRaw)
}

func TestParseOutputRotationPrefersTag(t *testing.T) {
	// The fixture carries both a rotate tag (90) and display matrix
	// rotation (-90); the tag wins.
	meta, err := parseOutput(loadTestData(t, "video_mp4.json"))
	require.NoError(t, err)

	require.NotNil(t, meta.RotationDeg)
	assert.Equal(t, 90, *meta.RotationDeg)
}

func TestParseOutputRotationFromSideData(t *testing.T) {
	stream := &ffprobeStream{
		SideDataList: []ffprobeSideData{{Rotation: intPtr(-90)}},
	}

	rot, ok := detectRotation(stream)
	require.True(t, ok)
	assert.Equal(t, -90, rot)
}

func TestParseOutputAudioOnlyLeavesVideoFieldsNil(t *testing.T) {
	meta, err := parseOutput(loadTestData(t, "audio_only.json"))
	require.NoError(t, err)

	require.NotNil(t, meta.DurationSec)
	assert.InDelta(t, 63.216, *meta.DurationSec, 1e-6)

	assert.Nil(t, meta.CodecName)
	assert.Nil(t, meta.Width)
	assert.Nil(t, meta.Height)
	assert.Nil(t, meta.FrameRate)
	assert.Nil(t, meta.BitRate)
	assert.Nil(t, meta.RotationDeg)
}

func TestParseOutputGarbage(t *testing.T) {
	_, err := parseOutput([]byte("not json"))
	require.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"30/1", 30, true},
		{"30000/1001", 29.97002997002997, true},
		{"25", 25, true},
		{"0/0", 0, false},
		{"", 0, false},
		{"x/y", 0, false},
		{"1/0", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := parseFrameRate(tc.raw)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}
