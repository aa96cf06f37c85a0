package transcription

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// FFProbe extracts audio metadata by shelling out to ffprobe.
type FFProbe struct{}

// Probe reads duration, sample rate, channels and bitrate from the file.
func (FFProbe) Probe(path string) (*types.AudioMeta, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate,channels,bit_rate:format=duration,bit_rate",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %v", err)
	}

	var probed struct {
		Streams []struct {
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			BitRate    string `json:"bit_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			BitRate  string `json:"bit_rate"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %v", err)
	}
	if len(probed.Streams) == 0 {
		return nil, fmt.Errorf("no audio stream found")
	}

	meta := &types.AudioMeta{Channels: probed.Streams[0].Channels}
	meta.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	meta.SampleRate, _ = strconv.Atoi(probed.Streams[0].SampleRate)
	if meta.Bitrate, _ = strconv.Atoi(probed.Streams[0].BitRate); meta.Bitrate == 0 {
		meta.Bitrate, _ = strconv.Atoi(probed.Format.BitRate)
	}
	if meta.Duration <= 0 {
		return nil, fmt.Errorf("audio has no measurable duration")
	}
	return meta, nil
}

// NormalizeAudio converts any audio file to 16kHz mono WAV format
func NormalizeAudio(inputPath, tempDir string) (string, error) {
	outputPath := filepath.Join(tempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	cmd := exec.Command("ffmpeg",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, string(output))
	}

	return outputPath, nil
}
