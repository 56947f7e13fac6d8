package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/segflow/internal/types"
	"github.com/andresmejia3/segflow/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1
)

// PythonWorker runs the segmentation model in a python subprocess. Requests
// go to its stdin, responses come back on a dedicated pipe (FD 3) so that
// python's own stdout chatter can't corrupt the protocol.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// NewPythonWorker starts script under the python interpreter. env entries
// ("KEY=value") are added to the inherited environment.
func NewPythonWorker(id int, python, script string, env ...string) (*PythonWorker, error) {
	py := utils.NewSafeCommand(python, "-u", script)
	py.Cmd.Env = append(os.Environ(), env...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
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
	}, nil
}

// Infer sends one model-ready JPEG and returns the model's output tensors in
// order.
func (w *PythonWorker) Infer(img *types.Image) ([]types.Tensor, error) {
	if img.Format != types.FormatJPEG {
		return nil, fmt.Errorf("worker %d expects jpeg input, got %s", w.ID, img.Format)
	}
	resp, err := w.Communicate(img.Data)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}
	return parseResponse(resp)
}

func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

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

// Stderr returns what the python process has logged. Only read it after
// Close: the buffer is written by the process until it exits.
func (w *PythonWorker) Stderr() string {
	if w.Cmd == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// parseResponse decodes
//
//	[status u8] then
//	  0: [u32 count] { [u32 nameLen][name] [u32 ndims][u32 dim]... [u32 dataLen][data] }
//	  1: [u32 msgLen][msg]
func parseResponse(resp []byte) ([]types.Tensor, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, errors.New("empty response from python worker")
	}

	switch status {
	case statusOK:
	case statusError:
		msg, err := readBlob(r)
		if err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown response status %d", status)
	}

	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("read tensor count: %w", err)
	}
	// Each tensor takes at least its three length fields.
	if uint64(count) > uint64(r.Len()/minTensorBytes) {
		return nil, fmt.Errorf("tensor count %d does not fit in %d bytes", count, r.Len())
	}
	tensors := make([]types.Tensor, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := readTensor(r)
		if err != nil {
			return nil, fmt.Errorf("read tensor %d: %w", i, err)
		}
		tensors = append(tensors, t)
	}
	return tensors, nil
}

const minTensorBytes = 12

func readTensor(r *bytes.Reader) (types.Tensor, error) {
	name, err := readBlob(r)
	if err != nil {
		return types.Tensor{}, err
	}
	ndims, err := readU32(r)
	if err != nil {
		return types.Tensor{}, err
	}
	if int(ndims)*4 > r.Len() {
		return types.Tensor{}, io.ErrUnexpectedEOF
	}
	shape := make([]int, ndims)
	for d := range shape {
		v, err := readU32(r)
		if err != nil {
			return types.Tensor{}, err
		}
		shape[d] = int(v)
	}
	data, err := readBlob(r)
	if err != nil {
		return types.Tensor{}, err
	}
	return types.Tensor{Name: string(name), Shape: shape, Data: data}, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

// readBlob reads a length-prefixed byte string.
func readBlob(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	return buf, err
}
