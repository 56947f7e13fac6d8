package worker

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/types"
	"github.com/andresmejia3/segflow/internal/utils"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func newMockWorker() (*PythonWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock, dataPipeMock
}

func writeFramed(dst *MockCloser, payload []byte) {
	binary.Write(dst, binary.BigEndian, uint32(len(payload)))
	dst.Write(payload)
}

func writeBlob(b *bytes.Buffer, data []byte) {
	binary.Write(b, binary.BigEndian, uint32(len(data)))
	b.Write(data)
}

func TestInfer(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()

	// Protocol: [Status:0] [Count:1] [Name] [NDims:2] [Dims] [Data]
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(1))
	writeBlob(payload, []byte("output"))
	binary.Write(payload, binary.BigEndian, uint32(2))
	binary.Write(payload, binary.BigEndian, [2]uint32{2, 2})

	data := make([]byte, 4*4)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(data[8:], math.Float32bits(0.75))
	writeBlob(payload, data)
	writeFramed(dataPipeMock, payload.Bytes())

	input := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	tensors, err := w.Infer(&types.Image{Data: input, Width: 2, Height: 1, Format: types.FormatJPEG})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sent := stdinMock.Bytes()
	if len(sent) != 4+len(input) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(input), len(sent))
	}
	if got := binary.BigEndian.Uint32(sent); got != uint32(len(input)) {
		t.Errorf("Expected length header %d, got %d", len(input), got)
	}

	if len(tensors) != 1 {
		t.Fatalf("Expected 1 tensor, got %d", len(tensors))
	}
	out := tensors[0]
	if out.Name != "output" || out.Rows() != 2 {
		t.Errorf("Unexpected tensor %q rows=%d", out.Name, out.Rows())
	}
	if math.Abs(float64(out.Float32At(2))-0.75) > 1e-6 {
		t.Errorf("Expected element 2 approx 0.75, got %f", out.Float32At(2))
	}
}

func TestInfer_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1)
	errMsg := "Python Exception: Import Error"
	writeBlob(payload, []byte(errMsg))
	writeFramed(dataPipeMock, payload.Bytes())

	_, err := w.Infer(&types.Image{Data: []byte("frame"), Width: 1, Height: 1, Format: types.FormatJPEG})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if want := "python worker error: " + errMsg; err.Error() != want {
		t.Errorf("Expected error message '%s', got '%v'", want, err)
	}
}

func TestInfer_WorkerGone(t *testing.T) {
	// Nothing on the data pipe: the process died before answering.
	w, _, _ := newMockWorker()
	if _, err := w.Infer(&types.Image{Data: []byte("frame"), Width: 1, Height: 1, Format: types.FormatJPEG}); err == nil {
		t.Fatal("Expected error from an empty data pipe")
	}
}

func TestInfer_RejectsRawPixels(t *testing.T) {
	w, stdinMock, _ := newMockWorker()
	if _, err := w.Infer(&types.Image{Data: []byte{1, 2, 3}, Width: 1, Height: 1, Format: types.FormatBGR}); err == nil {
		t.Fatal("Expected error for BGR input")
	}
	if stdinMock.Len() != 0 {
		t.Error("Nothing should be sent for rejected input")
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"unknown status", []byte{7}},
		{"truncated count", []byte{0, 0, 0}},
		{"count without tensors", []byte{0, 0, 0, 0, 1}},
		{"name longer than payload", []byte{0, 0, 0, 0, 1, 0, 0, 0, 9, 'a'}},
		{"count larger than payload", []byte{0, 0xff, 0xff, 0xff, 0xff}},
		{"count just above payload", []byte{0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseResponse(tt.payload); err == nil {
				t.Errorf("Expected error for %v", tt.payload)
			}
		})
	}
}

func TestLuminance(t *testing.T) {
	// 2x1 BGR image: white then black.
	img := &types.Image{Data: []byte{255, 255, 255, 0, 0, 0}, Width: 2, Height: 1, Format: types.FormatBGR}
	model := NewLuminance(2, 1, nil)

	tensors, err := model.Infer(img)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if len(tensors) != 1 {
		t.Fatalf("Expected 1 tensor, got %d", len(tensors))
	}
	out := tensors[0]
	if out.Rows() != 2 || out.Len() != 4 {
		t.Fatalf("Unexpected shape %v with %d values", out.Shape, out.Len())
	}
	if got := out.Float32At(0); math.Abs(float64(got)-1) > 1e-3 {
		t.Errorf("White pixel score = %f, want 1", got)
	}
	if got := out.Float32At(2); got != 0 {
		t.Errorf("Black pixel score = %f, want 0", got)
	}
	if got := out.Float32At(3); got != 1 {
		t.Errorf("Black pixel complement = %f, want 1", got)
	}
}

func TestLuminanceScalesToModelResolution(t *testing.T) {
	b, err := imaging.NewBackend("software")
	if err != nil {
		t.Fatal(err)
	}
	pix := bytes.Repeat([]byte{128}, 6*4*imaging.Channels)
	data, err := b.Encoder.Encode(pix, imaging.Resolution{Width: 6, Height: 4}, types.FormatPNG, 0)
	if err != nil {
		t.Fatal(err)
	}

	tensors, err := NewLuminance(3, 2, b.Decoder).Infer(&types.Image{Data: data, Width: 6, Height: 4, Format: types.FormatPNG})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if rows := tensors[0].Rows(); rows != 6 {
		t.Errorf("Expected 6 rows, got %d", rows)
	}
}

func TestStderr(t *testing.T) {
	w, _, _ := newMockWorker()
	if got := w.Stderr(); got != "" {
		t.Errorf("Expected no stderr without a process, got %q", got)
	}

	w.Cmd = &utils.SafeCommand{Stderr: bytes.NewBufferString("Traceback: model missing\n")}
	if got := w.Stderr(); got != "Traceback: model missing\n" {
		t.Errorf("Unexpected stderr %q", got)
	}
}
