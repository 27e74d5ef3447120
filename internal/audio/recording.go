// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"spectra/internal/config"
	"spectra/internal/log"
)

// recordInterval is how often the writer drains the recording buffer.
const recordInterval = 20 * time.Millisecond

var ErrAlreadyRecording = errors.New("already recording")

// recorder owns the WAV file while a recording runs. Only its goroutine
// touches the file, the encoder and the scratch buffers.
type recorder struct {
	path      string
	file      *os.File
	encoder   *wav.Encoder
	maxInt    float64
	maxFrames int // 0 for unlimited.
	frames    int
	failures  int

	left, right []float32
	pcm         *audio.IntBuffer

	done   chan struct{}
	result chan error
}

// StartRecording starts writing the processed stream to a stereo WAV file
// at filename.
func (e *Engine) StartRecording(filename string) error {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	if e.recorder != nil {
		return ErrAlreadyRecording
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	bitDepth := e.config.Recording.BitDepth
	if bitDepth == 0 {
		bitDepth = config.DefaultBitDepth
	}
	chunk := e.record.Capacity()
	r := &recorder{
		path:      filename,
		file:      file,
		encoder:   wav.NewEncoder(file, int(e.sampleRate), bitDepth, 2, 1),
		maxInt:    float64(int64(1)<<(bitDepth-1) - 1),
		maxFrames: e.config.Recording.MaxDuration * int(e.sampleRate),
		left:      make([]float32, chunk),
		right:     make([]float32, chunk),
		pcm: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: int(e.sampleRate)},
			Data:           make([]int, 2*chunk),
			SourceBitDepth: bitDepth,
		},
		done:   make(chan struct{}),
		result: make(chan error, 1),
	}

	// Anything left over from a previous take is discarded.
	e.record.DrainSilently()
	e.recorder = r
	e.recording.Store(true)
	go e.runRecorder(r)

	log.Infof("Recording: writing %d-bit WAV to %s", bitDepth, filename)
	return nil
}

// StopRecording stops the current recording, flushes what the stream has
// already produced and closes the file. It is a no-op when idle.
func (e *Engine) StopRecording() error {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	r := e.recorder
	if r == nil {
		return nil
	}
	e.recording.Store(false)
	close(r.done)
	err := <-r.result
	e.recorder = nil
	return err
}

// Recording reports whether a recording is in progress.
func (e *Engine) Recording() bool {
	return e.recording.Load()
}

func (e *Engine) runRecorder(r *recorder) {
	ticker := time.NewTicker(recordInterval)
	defer ticker.Stop()

	var err error
	for err == nil {
		select {
		case <-r.done:
			if err = r.flush(e); errors.Is(err, errMaxDuration) {
				err = nil
			}
			r.result <- r.close(err)
			return
		case <-ticker.C:
			err = r.flush(e)
		}
	}

	// The writer gave up; stop feeding it.
	e.recording.Store(false)
	if errors.Is(err, errMaxDuration) {
		log.Infof("Recording: reached the %d second limit, %s closed", e.config.Recording.MaxDuration, r.path)
		err = nil
	} else {
		log.Errorf("Recording: stopped: %v", err)
	}
	err = r.close(err)
	<-r.done
	r.result <- err
}

var errMaxDuration = errors.New("maximum duration reached")

// flush writes every staged frame to the encoder.
func (r *recorder) flush(e *Engine) error {
	for {
		n := e.record.Pop(r.left, r.right)
		if n == 0 {
			return nil
		}
		if r.maxFrames > 0 {
			n = min(n, r.maxFrames-r.frames)
		}
		if err := r.write(n); err != nil {
			return err
		}
		if r.maxFrames > 0 && r.frames >= r.maxFrames {
			return errMaxDuration
		}
	}
}

// write quantizes n frames and hands them to the encoder. Isolated failures
// drop the block; config.DefaultMaxConsecutiveWriteFailures in a row abort.
func (r *recorder) write(n int) error {
	data := r.pcm.Data[:2*n]
	for i := range n {
		data[2*i] = r.quantize(r.left[i])
		data[2*i+1] = r.quantize(r.right[i])
	}
	r.pcm.Data = data
	err := r.encoder.Write(r.pcm)
	r.pcm.Data = r.pcm.Data[:cap(r.pcm.Data)]
	if err != nil {
		r.failures++
		log.Warnf("Recording: write failed (%d in a row): %v", r.failures, err)
		if r.failures >= config.DefaultMaxConsecutiveWriteFailures {
			return fmt.Errorf("%d consecutive write failures: %w", r.failures, err)
		}
		return nil
	}
	r.failures = 0
	r.frames += n
	return nil
}

func (r *recorder) quantize(x float32) int {
	v := math.Round(float64(max(-1, min(1, x))) * r.maxInt)
	return int(v)
}

// close finalizes the WAV header and closes the file, returning the first
// error seen.
func (r *recorder) close(err error) error {
	if cerr := r.encoder.Close(); err == nil {
		err = cerr
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	log.Infof("Recording: %d frames written to %s", r.frames, r.path)
	return err
}
