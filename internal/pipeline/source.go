package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/segflow/internal/types"
	"github.com/andresmejia3/segflow/internal/utils"
)

const megabyte = 1024 * 1024

// FileFrames yields image files in order, in static mode.
type FileFrames struct {
	paths []string
	next  int
}

func NewFileFrames(paths []string) *FileFrames {
	return &FileFrames{paths: paths}
}

func (s *FileFrames) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.paths) {
		return Frame{}, io.EOF
	}
	path := s.paths[s.next]
	s.next++
	return Frame{Source: path, Mode: types.ModeStatic}, nil
}

// StreamFrames splits an MJPEG byte stream (e.g. ffmpeg image2pipe output)
// into live-capture frames.
type StreamFrames struct {
	scanner *bufio.Scanner
	count   int
}

func NewStreamFrames(r io.Reader) *StreamFrames {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &StreamFrames{scanner: scanner}
}

func (s *StreamFrames) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Frame{}, err
		}
		return Frame{}, io.EOF
	}
	s.count++
	// The scanner reuses its buffer.
	data := append([]byte(nil), s.scanner.Bytes()...)
	return Frame{Source: fmt.Sprintf("frame-%06d", s.count), Data: data, Mode: types.ModeLive}, nil
}
