package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"
)

// The speaker is process wide and opened once, at the rate of the first clip.
var (
	speakerMu   sync.Mutex
	speakerRate beep.SampleRate
)

// Sound is a decoded clip played through the speaker.
type Sound struct {
	path    string
	buffer  *beep.Buffer
	outRate beep.SampleRate
}

// decodeSound reads an mp3 or wav file into memory.
func decodeSound(path string) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sound: %w", err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("sound: %s: unsupported format, want .mp3 or .wav", path)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sound: decode %s: %w", path, err)
	}
	defer streamer.Close()

	buffer := beep.NewBuffer(format)
	buffer.Append(streamer)
	return buffer, nil
}

// LoadSound decodes path and opens the speaker at its sample rate.
func LoadSound(path string) (*Sound, error) {
	buffer, err := decodeSound(path)
	if err != nil {
		return nil, err
	}

	speakerMu.Lock()
	defer speakerMu.Unlock()
	rate := buffer.Format().SampleRate
	if speakerRate == 0 {
		if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
			return nil, fmt.Errorf("sound: open speaker: %w", err)
		}
		speakerRate = rate
	}

	return &Sound{path: path, buffer: buffer, outRate: speakerRate}, nil
}

// Play starts the clip and returns immediately.
func (s *Sound) Play() {
	var clip beep.Streamer = s.buffer.Streamer(0, s.buffer.Len())
	if rate := s.buffer.Format().SampleRate; rate != s.outRate {
		clip = beep.Resample(4, rate, s.outRate, clip)
	}
	speaker.Play(clip)
}

// Len returns the clip length in samples.
func (s *Sound) Len() int {
	return s.buffer.Len()
}
