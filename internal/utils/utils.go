package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box, followed by the captured stderr of
// s when there is any.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 SEGFLOW ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy: ShowError, then exit 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Live Capture ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

type ffprobeOutput struct {
	Streams []struct {
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// probe runs ffprobe on the first video stream of path and returns the
// requested stream field.
func probe(path, field string, extra ...string) (string, error) {
	args := []string{"-v", "error", "-select_streams", "v:0"}
	args = append(args, extra...)
	args = append(args, "-show_entries", "stream="+field, "-of", "json", path)

	out, err := exec.Command("ffprobe", args...).Output()
	if err != nil {
		return "", err
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return "", fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return "", fmt.Errorf("no video stream in %s", path)
	}
	if field == "nb_frames" {
		return res.Streams[0].NbFrames, nil
	}
	return res.Streams[0].NbReadPackets, nil
}

// GetTotalFrames estimates the frame count of a recorded capture for the
// progress bar. It returns 0 when the count is unknown (camera URLs, missing
// ffprobe), which makes the caller fall back to a spinner.
func GetTotalFrames(path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	// Container metadata is instant but may be "N/A" for streams.
	if v, err := probe(path, "nb_frames"); err == nil {
		if count, err := strconv.Atoi(v); err == nil && count > 0 {
			return count
		}
	}

	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	v, err := probe(path, "nb_read_packets", "-count_packets")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}
	count, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe integer parse error: %v\n", err)
		return 0
	}
	return count
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd decodes a capture (file, device or URL; "-" is stdin) into an
// MJPEG stream on stdout, optionally keeping only every nth frame.
func NewFFmpegCmd(input string, nth int) *exec.Cmd {
	if input == "-" {
		input = "pipe:0"
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-i", input}
	if nth > 1 {
		args = append(args, "-vf", fmt.Sprintf("select=not(mod(n\\,%d))", nth), "-vsync", "vfr")
	}
	// -q:v 2 keeps the JPEG re-encode close to lossless
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "2", "-")
	return exec.Command("ffmpeg", args...)
}

// GenerateItemID derives a deterministic ID for an input file from its path,
// size and modification time, so re-runs of an unchanged file share an ID.
func GenerateItemID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
