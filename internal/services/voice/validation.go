package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ternarybob/finrag/internal/models"
)

// supportedTypes maps sniffed MIME types to the extension sent upstream
var supportedTypes = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/ogg":    ".ogg",
	"audio/opus":   ".ogg",
	"audio/x-m4a":  ".m4a",
	"audio/mp4":    ".m4a",
	"video/mp4":    ".mp4",
	"audio/webm":   ".webm",
	"video/webm":   ".webm",
	"audio/aac":    ".aac",
}

var supportedExtensions = map[string]bool{
	".mp3": true, ".mpga": true, ".mpeg": true, ".wav": true, ".flac": true, ".ogg": true,
	".oga": true, ".opus": true, ".m4a": true, ".mp4": true, ".webm": true, ".aac": true,
}

// AudioInfo describes validated audio input
type AudioInfo struct {
	MIMEType  string
	Extension string
	Size      int
	RMS       float64 // -1 when the format does not allow a silence check
}

// ValidateAudio checks audio before it is sent anywhere: empty input, size,
// format (sniffed from content; a filename extension must also be an audio one)
// and, for PCM WAV, silence. Failures are *models.TranscriptionError.
func ValidateAudio(data []byte, filename string, maxBytes int, silenceThreshold float64) (*AudioInfo, error) {
	if len(data) == 0 {
		return nil, &models.TranscriptionError{Reason: models.TranscriptionEmptyAudio}
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, &models.TranscriptionError{
			Reason: models.TranscriptionTooLarge,
			Err:    fmt.Errorf("audio is %d bytes, limit is %d", len(data), maxBytes),
		}
	}

	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && !supportedExtensions[ext] {
		return nil, &models.TranscriptionError{
			Reason: models.TranscriptionUnsupportedFormat,
			Err:    fmt.Errorf("unsupported file extension %q", ext),
		}
	}

	mtype := mimetype.Detect(data)
	ext, ok := supportedExtension(mtype)
	if !ok {
		return nil, &models.TranscriptionError{
			Reason: models.TranscriptionUnsupportedFormat,
			Err:    fmt.Errorf("unsupported audio content type %s", mtype.String()),
		}
	}

	info := &AudioInfo{
		MIMEType:  mtype.String(),
		Extension: ext,
		Size:      len(data),
		RMS:       -1,
	}

	if ext == ".wav" {
		if rms, ok := wavRMS(data); ok {
			info.RMS = rms
			if rms < silenceThreshold {
				return nil, &models.TranscriptionError{
					Reason: models.TranscriptionSilentAudio,
					Err:    fmt.Errorf("audio RMS %.4f is below threshold %.4f", rms, silenceThreshold),
				}
			}
		}
	}

	return info, nil
}

func supportedExtension(mtype *mimetype.MIME) (string, bool) {
	for m := mtype; m != nil; m = m.Parent() {
		if ext, ok := supportedTypes[m.String()]; ok {
			return ext, true
		}
	}
	return "", false
}

// wavRMS returns the normalised RMS (0..1) of an 8 or 16 bit PCM WAV file.
// ok is false when the data is not a PCM WAV it can read.
func wavRMS(data []byte) (float64, bool) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0, false
	}

	var format, bits uint16
	var samples []byte
	for pos := 12; pos+8 <= len(data); {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) || size < 0 {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return 0, false
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
		case "data":
			samples = data[body:end]
		}

		// Chunks are word aligned
		pos = end + size%2
	}

	if format != 1 || samples == nil {
		return 0, false
	}

	var sum float64
	var n int
	switch bits {
	case 16:
		for i := 0; i+1 < len(samples); i += 2 {
			v := float64(int16(binary.LittleEndian.Uint16(samples[i:i+2]))) / 32768.0
			sum += v * v
			n++
		}
	case 8:
		for _, b := range samples {
			v := (float64(b) - 128) / 128.0
			sum += v * v
			n++
		}
	default:
		return 0, false
	}

	if n == 0 {
		return 0, true
	}
	return math.Sqrt(sum / float64(n)), true
}
