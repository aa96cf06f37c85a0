package intake

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// stubProber returns fixed metadata, or an error when failing is set.
type stubProber struct {
	failing bool
}

func (p stubProber) Probe(path string) (*types.AudioMeta, error) {
	if p.failing {
		return nil, errors.New("no audio stream found")
	}
	return &types.AudioMeta{Duration: 3.0, SampleRate: 44100, Channels: 2, Bitrate: 128000}, nil
}

func newTestIntake(t *testing.T, maxBytes int64, prober Prober) (*Intake, *storage.Store, string) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	uploadDir := t.TempDir()
	return New(store, prober, uploadDir, maxBytes), store, uploadDir
}

// wavBytes builds a minimal RIFF/WAVE header followed by padding.
func wavBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, "RIFF")
	copy(data[8:], "WAVE")
	return data
}

func mp3Bytes(size int) []byte {
	data := make([]byte, size)
	copy(data, "ID3")
	return data
}

func m4aBytes(size int) []byte {
	data := make([]byte, size)
	copy(data[4:], "ftypM4A ")
	return data
}

func TestAcceptStoresJobAndFile(t *testing.T) {
	in, store, uploadDir := newTestIntake(t, 1<<20, stubProber{})

	job, existing, err := in.Accept("meeting.wav", wavBytes(256), "audio/wav", types.UsageMeeting)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, types.StatusUploaded, job.Status)
	assert.Equal(t, "audio/wav", job.MimeType)
	assert.Len(t, job.ContentHash, 64)

	// content-addressed layout: uploads/{sha[:2]}/{sha}.{ext}
	path := filepath.Join(uploadDir, job.ContentHash[:2], job.ContentHash+".wav")
	_, err = os.Stat(path)
	assert.NoError(t, err)

	audio, err := store.GetAudioMeta(job.ID)
	require.NoError(t, err)
	assert.Equal(t, path, audio.Path)
	assert.Equal(t, 44100, audio.SampleRate)
}

func TestAcceptSizeBoundary(t *testing.T) {
	const limit = 4096
	in, _, _ := newTestIntake(t, limit, stubProber{})

	// exactly at the limit is accepted
	_, _, err := in.Accept("a.wav", wavBytes(limit), "audio/wav", types.UsageMeeting)
	assert.NoError(t, err)

	// one byte over is rejected
	_, _, err = in.Accept("b.wav", wavBytes(limit+1), "audio/wav", types.UsageMeeting)
	assert.Equal(t, apperr.CodeFileTooLarge, apperr.CodeOf(err))
}

func TestAcceptEmptyFile(t *testing.T) {
	in, _, _ := newTestIntake(t, 1<<20, stubProber{})
	_, _, err := in.Accept("a.wav", nil, "audio/wav", types.UsageMeeting)
	assert.Equal(t, apperr.CodeEmptyFile, apperr.CodeOf(err))
}

func TestAcceptInvalidUsageType(t *testing.T) {
	in, _, _ := newTestIntake(t, 1<<20, stubProber{})
	_, _, err := in.Accept("a.wav", wavBytes(64), "audio/wav", "lecture")
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}

func TestAcceptUnsupportedExtension(t *testing.T) {
	in, _, _ := newTestIntake(t, 1<<20, stubProber{})
	_, _, err := in.Accept("a.flac", wavBytes(64), "audio/flac", types.UsageMeeting)
	assert.Equal(t, apperr.CodeInvalidFormat, apperr.CodeOf(err))
}

func TestAcceptSniffMismatch(t *testing.T) {
	in, _, _ := newTestIntake(t, 1<<20, stubProber{})
	// valid extension, mp3 content
	_, _, err := in.Accept("a.wav", mp3Bytes(64), "audio/wav", types.UsageMeeting)
	assert.Equal(t, apperr.CodeInvalidFormat, apperr.CodeOf(err))
}

func TestMimeNormalization(t *testing.T) {
	tests := []struct {
		declared string
		filename string
		content  []byte
		want     string
	}{
		{"audio/x-m4a", "a.m4a", m4aBytes(64), "audio/m4a"},
		{"audio/mp4", "b.mp4", m4aBytes(64), "audio/m4a"},
		{"audio/wave", "c.wav", wavBytes(64), "audio/wav"},
		{"audio/x-wav", "d.wav", wavBytes(64), "audio/wav"},
		{"audio/mpeg", "e.mp3", mp3Bytes(64), "audio/mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			in, store, _ := newTestIntake(t, 1<<20, stubProber{})
			job, _, err := in.Accept(tt.filename, tt.content, tt.declared, types.UsageMeeting)
			require.NoError(t, err)

			got, err := store.GetJob(job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.MimeType)
		})
	}
}

func TestAcceptUnknownDeclaredMime(t *testing.T) {
	in, _, _ := newTestIntake(t, 1<<20, stubProber{})
	_, _, err := in.Accept("a.wav", wavBytes(64), "video/quicktime", types.UsageMeeting)
	assert.Equal(t, apperr.CodeInvalidFormat, apperr.CodeOf(err))
}

func TestAcceptOctetStreamFallsBackToExtension(t *testing.T) {
	in, _, _ := newTestIntake(t, 1<<20, stubProber{})
	job, _, err := in.Accept("a.mp3", mp3Bytes(64), "application/octet-stream", types.UsageMeeting)
	require.NoError(t, err)
	assert.Equal(t, "audio/mp3", job.MimeType)
}

func TestAcceptDedupActiveJob(t *testing.T) {
	in, store, _ := newTestIntake(t, 1<<20, stubProber{})

	data := wavBytes(512)
	first, existing, err := in.Accept("a.wav", data, "audio/wav", types.UsageMeeting)
	require.NoError(t, err)
	assert.False(t, existing)

	second, existing, err := in.Accept("a.wav", data, "audio/wav", types.UsageMeeting)
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.ID, second.ID)

	total, err := store.CountJobs("")
	require.NoError(t, err)
	assert.Equal(t, 1, total, "duplicate upload must not create a second job")

	// a different usage type is a separate job
	third, existing, err := in.Accept("a.wav", data, "audio/wav", types.UsageInterview)
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestAcceptCorruptFile(t *testing.T) {
	in, store, uploadDir := newTestIntake(t, 1<<20, stubProber{failing: true})

	_, _, err := in.Accept("a.wav", wavBytes(128), "audio/wav", types.UsageMeeting)
	assert.Equal(t, apperr.CodeCorruptFile, apperr.CodeOf(err))

	// nothing persists on rejection
	total, err := store.CountJobs("")
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	entries, err := os.ReadDir(uploadDir)
	require.NoError(t, err)
	for _, entry := range entries {
		sub, err := os.ReadDir(filepath.Join(uploadDir, entry.Name()))
		require.NoError(t, err)
		assert.Empty(t, sub, "stored file must be removed when probing fails")
	}
}

func TestSniffFormat(t *testing.T) {
	assert.Equal(t, "wav", sniffFormat(wavBytes(16)))
	assert.Equal(t, "mp3", sniffFormat(mp3Bytes(16)))
	assert.Equal(t, "m4a", sniffFormat(m4aBytes(16)))
	assert.Equal(t, "mp3", sniffFormat([]byte{0xFF, 0xFB, 0x90, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}))
	assert.Equal(t, "", sniffFormat([]byte("not audio at all")))
}
