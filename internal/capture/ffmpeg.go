package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const closeTimeout = 3 * time.Second

// Options configures an FFmpegSource.
type Options struct {
	Device      string // /dev/videoN, rtsp://..., http(s)://...
	FPS         int
	Width       int
	OpenTimeout time.Duration
	ReadTimeout time.Duration
}

// launchFunc starts the frame producer and returns its JPEG stream and a
// function that waits for it to exit.
type launchFunc func(ctx context.Context, args []string) (io.Reader, func() error, error)

// FFmpegSource reads JPEG frames from an ffmpeg subprocess attached to a camera.
//
// Only the freshest frame is kept: if the session falls behind, older frames
// are dropped rather than queued.
type FFmpegSource struct {
	opts   Options
	launch launchFunc
	now    func() time.Time

	cancel  context.CancelFunc
	frames  chan []byte
	done    chan struct{}
	readErr error // valid once done is closed
	first   []byte
	seq     uint64

	closeOnce sync.Once
}

// NewFFmpegSource creates a source for the configured device. Nothing is
// started until Open.
func NewFFmpegSource(opts Options) *FFmpegSource {
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	return &FFmpegSource{
		opts:   opts,
		launch: launchFFmpeg,
		now:    time.Now,
	}
}

// Open starts ffmpeg and waits for the first frame.
func (s *FFmpegSource) Open(ctx context.Context) error {
	if s.done != nil {
		return fmt.Errorf("%w: source already opened", ErrDeviceUnavailable)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.frames = make(chan []byte, 1)
	s.done = make(chan struct{})

	stdout, wait, err := s.launch(runCtx, buildArgs(s.opts))
	if err != nil {
		cancel()
		close(s.done)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	go func() {
		defer close(s.done)
		err := readJPEGFrames(runCtx, stdout, s.push)
		waitErr := wait()
		if err == nil && waitErr != nil && runCtx.Err() == nil {
			err = fmt.Errorf("ffmpeg exited: %w", waitErr)
		}
		s.readErr = err
	}()

	timer := time.NewTimer(s.opts.OpenTimeout)
	defer timer.Stop()

	select {
	case data := <-s.frames:
		s.first = data
		slog.Info("camera opened", "device", s.opts.Device, "fps", s.opts.FPS, "width", s.opts.Width)
		return nil
	case <-s.done:
		select {
		case data := <-s.frames:
			s.first = data
			return nil
		default:
		}
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, s.opts.Device, s.readErr)
	case <-timer.C:
		_ = s.Close()
		return fmt.Errorf("%w: %s: no frame within %s", ErrDeviceUnavailable, s.opts.Device, s.opts.OpenTimeout)
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
}

// Next returns the freshest frame, waiting at most ReadTimeout.
func (s *FFmpegSource) Next(ctx context.Context) (Frame, error) {
	if s.done == nil {
		return Frame{}, fmt.Errorf("%w: source not opened", ErrReadFailure)
	}

	var data []byte
	if s.first != nil {
		data, s.first = s.first, nil
		return s.decode(data)
	}

	// A buffered frame wins over a finished reader.
	select {
	case data = <-s.frames:
		return s.decode(data)
	default:
	}

	timer := time.NewTimer(s.opts.ReadTimeout)
	defer timer.Stop()

	select {
	case data = <-s.frames:
		return s.decode(data)
	case <-s.done:
		if s.readErr == nil {
			return Frame{}, ErrEndOfStream
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrReadFailure, s.readErr)
	case <-timer.C:
		return Frame{}, fmt.Errorf("%w: no frame within %s", ErrReadFailure, s.opts.ReadTimeout)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close stops ffmpeg and waits for the reader to finish. Idempotent.
func (s *FFmpegSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(closeTimeout):
			err = fmt.Errorf("close capture: reader did not stop within %s", closeTimeout)
		}
		slog.Info("camera released", "device", s.opts.Device)
	})
	return err
}

// push keeps only the newest frame in the buffer.
func (s *FFmpegSource) push(data []byte) error {
	for {
		select {
		case s.frames <- data:
			return nil
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

func (s *FFmpegSource) decode(data []byte) (Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: decode jpeg: %v", ErrReadFailure, err)
	}
	s.seq++
	return Frame{
		Seq:        s.seq,
		Image:      img,
		JPEG:       data,
		CapturedAt: s.now(),
	}, nil
}

func buildArgs(opts Options) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	switch {
	case strings.HasPrefix(opts.Device, "/dev/"):
		args = append(args, "-f", "v4l2", "-framerate", strconv.Itoa(opts.FPS))
	case strings.HasPrefix(opts.Device, "rtsp://") || strings.HasPrefix(opts.Device, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000",
		)
	case strings.HasPrefix(opts.Device, "http://") || strings.HasPrefix(opts.Device, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	return append(args,
		"-i", opts.Device,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", opts.FPS, opts.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

func launchFFmpeg(ctx context.Context, args []string) (io.Reader, func() error, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	return stdout, cmd.Wait, nil
}

// readJPEGFrames splits a stream of concatenated JPEG images.
// Returns nil when the stream ends after at least one frame.
func readJPEGFrames(ctx context.Context, r io.Reader, callback func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF && framesRead > 0 {
				return nil
			}
			if err == io.EOF {
				return fmt.Errorf("no frames received")
			}
			return err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF && framesRead > 0 {
				return nil
			}
			return err
		}

		framesRead++
		if err := callback(frameData); err != nil {
			slog.Warn("frame callback error", "error", err)
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
