package utils

import (
	"bufio"
	"bytes"
	"os"
	"slices"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpeg_BackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xCC, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var frames [][]byte
	for scanner.Scan() {
		frames = append(frames, append([]byte(nil), scanner.Bytes()...))
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], a) || !bytes.Equal(frames[1], b) {
		t.Errorf("Frames out of order or truncated: %X", frames)
	}
}

func TestNewFFmpegCmd(t *testing.T) {
	cmd := NewFFmpegCmd("-", 1)
	if !slices.Contains(cmd.Args, "pipe:0") {
		t.Errorf("Expected stdin input, got %v", cmd.Args)
	}
	if slices.Contains(cmd.Args, "-vf") {
		t.Errorf("Unexpected frame filter: %v", cmd.Args)
	}
	if last := cmd.Args[len(cmd.Args)-1]; last != "-" {
		t.Errorf("Expected output to stdout, got %q", last)
	}

	cmd = NewFFmpegCmd("rtsp://camera/1", 5)
	if !slices.Contains(cmd.Args, "select=not(mod(n\\,5))") {
		t.Errorf("Expected every 5th frame filter, got %v", cmd.Args)
	}
}

func TestGenerateItemID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "item_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake image content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateItemID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateItemID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateItemID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateItemID(tmp.Name() + ".missing"); err == nil {
		t.Error("Expected error for a missing file")
	}
}
