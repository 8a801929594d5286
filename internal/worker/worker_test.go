package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facevote/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// newMockWorker returns a worker whose data pipe already holds one framed response.
func newMockWorker(response []byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(response)))
	dataPipeMock.Write(response)

	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock
}

func TestDetectFaces(t *testing.T) {
	// Protocol: [Status:0] [NumFaces] [Box:top,right,bottom,left]...
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(2))
	binary.Write(payload, binary.BigEndian, [4]int32{10, 40, 50, 5})
	binary.Write(payload, binary.BigEndian, [4]int32{60, 90, 95, 55})

	w, stdin := newMockWorker(payload.Bytes())

	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	boxes, err := w.DetectFaces(context.Background(), img, types.ModelAccurate)
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}

	want := []types.BoundingBox{
		{Top: 10, Right: 40, Bottom: 50, Left: 5},
		{Top: 60, Right: 90, Bottom: 95, Left: 55},
	}
	if len(boxes) != len(want) {
		t.Fatalf("Expected %d boxes, got %d", len(want), len(boxes))
	}
	for i := range want {
		if boxes[i] != want[i] {
			t.Errorf("box %d = %+v, want %+v", i, boxes[i], want[i])
		}
	}

	// Verify Go sent the correct request TO Python:
	// [len][op][w][h][model][rgb...]
	sent := stdin.Bytes()
	wantBody := 1 + 4 + 4 + 1 + 3*2*3
	if len(sent) != 4+wantBody {
		t.Fatalf("Expected %d bytes sent, got %d", 4+wantBody, len(sent))
	}
	if got := binary.BigEndian.Uint32(sent[:4]); got != uint32(wantBody) {
		t.Errorf("length header = %d, want %d", got, wantBody)
	}
	if sent[4] != opDetect {
		t.Errorf("opcode = %d, want %d", sent[4], opDetect)
	}
	if binary.BigEndian.Uint32(sent[5:9]) != 3 || binary.BigEndian.Uint32(sent[9:13]) != 2 {
		t.Errorf("image header = %v", sent[5:13])
	}
	if sent[13] != 1 {
		t.Errorf("model byte = %d, want 1 (cnn)", sent[13])
	}
}

func TestEmbedFaces(t *testing.T) {
	// Protocol: [Status:0] [Count] [Dim] [float64...]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, [2]uint32{1, 128})
	vec := [128]float64{}
	vec[0] = 0.5
	vec[127] = -0.25
	binary.Write(payload, binary.BigEndian, vec)

	w, stdin := newMockWorker(payload.Bytes())

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	box := types.BoundingBox{Top: 0, Right: 3, Bottom: 3, Left: 0}
	vecs, err := w.EmbedFaces(context.Background(), img, []types.BoundingBox{box})
	if err != nil {
		t.Fatalf("EmbedFaces failed: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 128 {
		t.Fatalf("Expected one 128-d embedding, got %d", len(vecs))
	}
	// Use epsilon for float comparison
	if math.Abs(vecs[0][0]-0.5) > 1e-9 || math.Abs(vecs[0][127]+0.25) > 1e-9 {
		t.Errorf("unexpected embedding values %v ... %v", vecs[0][0], vecs[0][127])
	}

	sent := stdin.Bytes()
	// [len][op][w][h][n][box]...
	if sent[4] != opEmbed {
		t.Errorf("opcode = %d, want %d", sent[4], opEmbed)
	}
	if n := binary.BigEndian.Uint32(sent[13:17]); n != 1 {
		t.Errorf("box count = %d, want 1", n)
	}
}

func TestEmbedFacesNoBoxesSkipsWorker(t *testing.T) {
	w, stdin := newMockWorker(nil)
	vecs, err := w.EmbedFaces(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)), nil)
	if err != nil || vecs != nil {
		t.Fatalf("expected nil, nil; got %v, %v", vecs, err)
	}
	if stdin.Len() != 0 {
		t.Error("nothing should be sent for an empty box list")
	}
}

func TestProcessFrame_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w, _ := newMockWorker(payload.Bytes())

	_, err := w.DetectFaces(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)), types.ModelFast)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestMalformedResponses(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		embed   bool
	}{
		{"empty body", []byte{}, false},
		{"unknown status", []byte{7}, false},
		{"truncated boxes", []byte{statusOK, 0, 0, 0, 2, 0, 0}, false},
		{"truncated embeddings", []byte{statusOK, 0, 0, 0, 1, 0, 0, 0, 2, 1, 2, 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newMockWorker(tt.payload)
			img := image.NewRGBA(image.Rect(0, 0, 1, 1))
			var err error
			if tt.embed {
				_, err = w.EmbedFaces(context.Background(), img, []types.BoundingBox{{}})
			} else {
				_, err = w.DetectFaces(context.Background(), img, types.ModelFast)
			}
			if err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

// blockingReader never returns, simulating a hung detector.
type blockingReader struct{ ch chan struct{} }

func (b blockingReader) Read(p []byte) (int, error) { <-b.ch; return 0, io.EOF }
func (b blockingReader) Close() error                { close(b.ch); return nil }

func TestReadTimeout(t *testing.T) {
	w := &PythonWorker{
		ID:       2,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: blockingReader{ch: make(chan struct{})},
		timeout:  20 * time.Millisecond,
	}
	defer w.Close()

	_, err := w.DetectFaces(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)), types.ModelFast)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
