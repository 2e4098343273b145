package video

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/threatlens/annotator/pkg/types"
)

// parseProbe extracts stream metadata from ffprobe's JSON output.
// The frame count is taken from nb_frames, or estimated from duration and
// frame rate when the container does not store it. Live streams report 0.
func parseProbe(probeJSON string) (types.VideoInfo, error) {
	if !gjson.Valid(probeJSON) {
		return types.VideoInfo{}, fmt.Errorf("invalid ffprobe output")
	}
	stream := gjson.Get(probeJSON, `streams.#(codec_type=="video")`)
	if !stream.Exists() {
		return types.VideoInfo{}, fmt.Errorf("no video stream")
	}

	info := types.VideoInfo{
		Width:  int(stream.Get("width").Int()),
		Height: int(stream.Get("height").Int()),
	}
	if info.Width <= 0 || info.Height <= 0 {
		return types.VideoInfo{}, fmt.Errorf("video stream has no dimensions")
	}

	info.FPS = parseRate(stream.Get("avg_frame_rate").String())
	if info.FPS <= 0 {
		info.FPS = parseRate(stream.Get("r_frame_rate").String())
	}

	if n := stream.Get("nb_frames").Int(); n > 0 {
		info.TotalFrames = int(n)
	} else if info.FPS > 0 {
		duration := stream.Get("duration").Float()
		if duration <= 0 {
			duration = gjson.Get(probeJSON, "format.duration").Float()
		}
		if duration > 0 {
			info.TotalFrames = int(math.Round(duration * info.FPS))
		}
	}
	return info, nil
}

// parseRate parses ffprobe rationals such as "30000/1001" or plain numbers.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
