// internal/cli/device.go

package cli

import (
	"bytes"
	"context"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

// fileAudioDevice plays a recorded audio file as the audio input
type fileAudioDevice struct {
	path string
}

type fileAudioStream struct {
	*bytes.Reader
	mimeType string
}

func (s *fileAudioStream) MimeType() string {
	return s.mimeType
}

func (s *fileAudioStream) Close() error {
	return nil
}

func (d fileAudioDevice) Open(ctx context.Context) (messaging.AudioStream, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	return &fileAudioStream{
		Reader:   bytes.NewReader(data),
		mimeType: mimetype.Detect(data).String(),
	}, nil
}
