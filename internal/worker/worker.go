package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facevote/internal/imageio"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/utils" // Using the SafeCommand wrapper
)

// Request opcodes.
const (
	opDetect byte = 1
	opEmbed  byte = 2
)

// Response status bytes.
const (
	statusOK    byte = 0
	statusError byte = 1
)

// Config controls how the Python engine is launched.
type Config struct {
	PythonBin   string
	Script      string
	ReadTimeout time.Duration
}

// PythonWorker hosts face_recognition in a child process and speaks a length-prefixed binary
// protocol with it. Requests go over stdin; responses come back on a dedicated pipe (FD 3) so
// that library chatter on stdout cannot corrupt the stream.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	mu      sync.Mutex
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	py := utils.NewSafeCommand(ctx, cfg.PythonBin, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// DetectFaces implements face.Detector.
func (w *PythonWorker) DetectFaces(ctx context.Context, img *image.RGBA, model types.Model) ([]types.BoundingBox, error) {
	req := new(bytes.Buffer)
	req.WriteByte(opDetect)
	writeImageHeader(req, img)
	modelByte := byte(0)
	if model == types.ModelAccurate {
		modelByte = 1
	}
	req.WriteByte(modelByte)
	req.Write(imageio.PackRGB(img))

	body, err := w.communicate(ctx, req.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeBoxes(body)
}

// EmbedFaces implements face.Detector.
func (w *PythonWorker) EmbedFaces(ctx context.Context, img *image.RGBA, boxes []types.BoundingBox) ([]types.Embedding, error) {
	if len(boxes) == 0 {
		return nil, nil
	}
	req := new(bytes.Buffer)
	req.WriteByte(opEmbed)
	writeImageHeader(req, img)
	binary.Write(req, binary.BigEndian, uint32(len(boxes)))
	for _, b := range boxes {
		binary.Write(req, binary.BigEndian, [4]int32{int32(b.Top), int32(b.Right), int32(b.Bottom), int32(b.Left)})
	}
	req.Write(imageio.PackRGB(img))

	body, err := w.communicate(ctx, req.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeEmbeddings(body)
}

func writeImageHeader(buf *bytes.Buffer, img *image.RGBA) {
	b := img.Bounds()
	binary.Write(buf, binary.BigEndian, uint32(b.Dx()))
	binary.Write(buf, binary.BigEndian, uint32(b.Dy()))
}

type reply struct {
	body []byte
	err  error
}

// communicate sends one framed request and waits for the framed response, giving up when ctx is
// done or the read timeout passes. A worker that timed out is killed since its pipe is no longer
// in a known state.
func (w *PythonWorker) communicate(ctx context.Context, data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	done := make(chan reply, 1)
	go func() {
		body, err := w.roundTrip(data)
		done <- reply{body: body, err: err}
	}()

	var timeout <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return parseStatus(r.body)
	case <-timeout:
		w.kill()
		return nil, fmt.Errorf("worker %d timed out after %s", w.ID, w.timeout)
	case <-ctx.Done():
		w.kill()
		return nil, ctx.Err()
	}
}

func (w *PythonWorker) roundTrip(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// parseStatus strips the status byte, turning an error reply into a Go error.
func parseStatus(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, errors.New("empty response from python worker")
	}
	switch body[0] {
	case statusOK:
		return body[1:], nil
	case statusError:
		r := bytes.NewReader(body[1:])
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown response status %d", body[0])
	}
}

func decodeBoxes(body []byte) ([]types.BoundingBox, error) {
	r := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed detect response: %w", err)
	}
	if int64(n)*16 > int64(r.Len()) {
		return nil, fmt.Errorf("malformed detect response: %d boxes in %d bytes", n, r.Len())
	}
	boxes := make([]types.BoundingBox, n)
	for i := range boxes {
		var loc [4]int32 // top, right, bottom, left
		if err := binary.Read(r, binary.BigEndian, &loc); err != nil {
			return nil, fmt.Errorf("malformed detect response: %w", err)
		}
		boxes[i] = types.BoundingBox{Top: int(loc[0]), Right: int(loc[1]), Bottom: int(loc[2]), Left: int(loc[3])}
	}
	return boxes, nil
}

func decodeEmbeddings(body []byte) ([]types.Embedding, error) {
	r := bytes.NewReader(body)
	var hdr [2]uint32 // count, dimension
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("malformed embed response: %w", err)
	}
	n, dim := int64(hdr[0]), int64(hdr[1])
	if n*dim*8 != int64(r.Len()) {
		return nil, fmt.Errorf("malformed embed response: %dx%d floats in %d bytes", n, dim, r.Len())
	}
	out := make([]types.Embedding, n)
	raw := make([]byte, 8)
	for i := range out {
		vec := make(types.Embedding, dim)
		for j := range vec {
			io.ReadFull(r, raw)
			vec[j] = math.Float64frombits(binary.BigEndian.Uint64(raw))
		}
		out[i] = vec
	}
	return out, nil
}

func (w *PythonWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

// Close shuts the worker down and waits for the process to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
