// internal/messaging/recorder.go

package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// AudioStream is an acquired audio input. Close releases the device.
type AudioStream interface {
	io.ReadCloser
	MimeType() string
}

// AudioDevice hands out audio input streams
type AudioDevice interface {
	Open(ctx context.Context) (AudioStream, error)
}

// recording is one scoped acquisition of the audio device
type recording struct {
	stream    AudioStream
	buf       bytes.Buffer
	done      chan struct{}
	err       error
	startedAt time.Time
	release   sync.Once
}

func (r *recording) close() {
	r.release.Do(func() {
		if err := r.stream.Close(); err != nil {
			log.Printf("Failed to release audio input: %v", err)
		}
	})
}

// Recorder drives start/stop recording sessions. At most one session is active.
type Recorder struct {
	device AudioDevice
	now    func() time.Time

	mu      sync.Mutex
	current *recording
}

func NewRecorder(device AudioDevice) *Recorder {
	return &Recorder{device: device, now: time.Now}
}

// Start acquires the audio input and begins capturing
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return ErrRecordingActive
	}
	if r.device == nil {
		return &ResourceAcquisitionError{Err: errors.New("no audio device configured")}
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		return &ResourceAcquisitionError{Err: err}
	}

	rec := &recording{
		stream:    stream,
		done:      make(chan struct{}),
		startedAt: r.now(),
	}
	go func() {
		defer close(rec.done)
		_, err := io.Copy(&rec.buf, stream)
		if err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
			rec.err = err
		}
	}()

	r.current = rec
	return nil
}

// Recording reports whether a session is active
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Stop finalizes the session into a single audio attachment.
// The device is released whether or not an attachment is produced.
func (r *Recorder) Stop() (Attachment, error) {
	rec := r.detach()
	if rec == nil {
		return Attachment{}, ErrNotRecording
	}

	rec.close()
	<-rec.done

	if rec.err != nil {
		return Attachment{}, fmt.Errorf("recording failed: %w", rec.err)
	}
	if rec.buf.Len() == 0 {
		return Attachment{}, invalid("recording", "no audio was captured")
	}

	mimeType := rec.stream.MimeType()
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	name := fmt.Sprintf("voice-%s%s", rec.startedAt.UTC().Format("20060102-150405"), audioExt(mimeType))

	att := NewDataAttachment(name, mimeType, rec.buf.Bytes())
	att.Kind = KindAudio
	return att, nil
}

// Cancel abandons the session without producing an attachment.
// Safe to call when nothing is recording.
func (r *Recorder) Cancel() {
	rec := r.detach()
	if rec == nil {
		return
	}
	rec.close()
	<-rec.done
}

func (r *Recorder) detach() *recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.current
	r.current = nil
	return rec
}

func audioExt(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "mpeg"):
		return ".mp3"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "aac"):
		return ".m4a"
	default:
		return ".webm"
	}
}
