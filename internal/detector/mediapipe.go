package detector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gocv.io/x/gocv"
)

const (
	workerScript = "mediapipe_worker.py"
	idleShutdown = 30 * time.Second
	maxMessage   = 32 << 20
)

// Worker operations.
const (
	opHands   = "hands"
	opSegment = "segment"
)

type workerRequest struct {
	Op            string  `msgpack:"op"`
	JPEG          []byte  `msgpack:"jpeg"`
	MaxHands      int     `msgpack:"max_hands,omitempty"`
	MinConfidence float64 `msgpack:"min_confidence,omitempty"`
	MinTracking   float64 `msgpack:"min_tracking,omitempty"`
}

type workerHand struct {
	Points     []Point3D `msgpack:"points"`
	Handedness string    `msgpack:"handedness"`
	Score      float64   `msgpack:"score"`
}

type workerResponse struct {
	Hands []workerHand `msgpack:"hands"`
	// Masks holds one PNG-encoded 8-bit mask per segmented person.
	Masks [][]byte `msgpack:"masks"`
	Error string   `msgpack:"error"`
}

// MediaPipeDetector talks to a Python MediaPipe worker over stdin/stdout.
// Messages in both directions are a 4-byte big-endian length followed by
// a msgpack payload. The worker is started lazily and stopped after
// 30 seconds without requests. It serves both hand landmarks and person
// segmentation.
type MediaPipeDetector struct {
	config     Config
	scriptPath string
	pythonPath string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	idleTimer *time.Timer
}

// Probe reports whether the MediaPipe worker can be launched with cfg.
// A failure wraps ErrUnavailable.
func Probe(cfg Config) (script, python string, err error) {
	script = cfg.ScriptPath
	if script == "" {
		script = findWorkerScript()
	}
	if script == "" {
		return "", "", fmt.Errorf("%w: %s not found", ErrUnavailable, workerScript)
	}
	if _, err := os.Stat(script); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	python = cfg.PythonPath
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python, err = exec.LookPath("python3")
		if err != nil {
			return "", "", fmt.Errorf("%w: python3 not found", ErrUnavailable)
		}
	}
	return script, python, nil
}

// NewMediaPipeDetector creates a detector backed by the MediaPipe worker.
// The Python process is started lazily on first use.
func NewMediaPipeDetector(cfg Config) (*MediaPipeDetector, error) {
	script, python, err := Probe(cfg)
	if err != nil {
		return nil, err
	}
	return &MediaPipeDetector{
		config:     cfg,
		scriptPath: script,
		pythonPath: python,
	}, nil
}

// Detect analyzes a frame and returns detected hand landmarks.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	resp, err := d.roundTrip(opHands, frame)
	if err != nil {
		return nil, err
	}

	hands := make([]HandLandmarks, 0, len(resp.Hands))
	for _, h := range resp.Hands {
		hands = append(hands, h.toHandLandmarks())
	}
	return hands, nil
}

// Segment returns one 8-bit foreground mask per detected person, each
// the size of frame. The caller owns the returned Mats.
func (d *MediaPipeDetector) Segment(frame *gocv.Mat) ([]gocv.Mat, error) {
	resp, err := d.roundTrip(opSegment, frame)
	if err != nil {
		return nil, err
	}

	masks := make([]gocv.Mat, 0, len(resp.Masks))
	for _, data := range resp.Masks {
		m, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
		if err == nil && m.Empty() {
			err = errors.New("empty mask")
		}
		if err != nil {
			m.Close()
			closeAll(masks)
			return nil, fmt.Errorf("decode mask: %w", err)
		}
		if m.Rows() != frame.Rows() || m.Cols() != frame.Cols() {
			resized := gocv.NewMat()
			gocv.Resize(m, &resized, image.Pt(frame.Cols(), frame.Rows()), 0, 0, gocv.InterpolationLinear)
			m.Close()
			m = resized
		}
		masks = append(masks, m)
	}
	return masks, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeDetector) roundTrip(op string, frame *gocv.Mat) (*workerResponse, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	payload, err := msgpack.Marshal(&workerRequest{
		Op:            op,
		JPEG:          buf.GetBytes(),
		MaxHands:      d.config.MaxHands,
		MinConfidence: d.config.MinConfidence,
		MinTracking:   d.config.MinTrackingConf,
	})
	buf.Close()
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	resp, err := d.exchange(payload)
	if err != nil {
		// A broken pipe or short read leaves the stream unusable.
		d.shutdown()
		return nil, err
	}
	d.resetIdleTimer()

	if resp.Error != "" {
		return nil, fmt.Errorf("worker: %s", resp.Error)
	}
	return resp, nil
}

func (d *MediaPipeDetector) exchange(payload []byte) (*workerResponse, error) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := d.stdin.Write(length[:]); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	if _, err := io.ReadFull(d.stdout, length[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxMessage {
		return nil, fmt.Errorf("response too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(d.stdout, data); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp workerResponse
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &resp, nil
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.pythonPath, d.scriptPath)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe worker: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	return nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
	return err
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findWorkerScript() string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	return firstExisting(
		filepath.Join("scripts", workerScript),
		filepath.Join("..", "scripts", workerScript),
		filepath.Join(execDir, "scripts", workerScript),
		filepath.Join(os.Getenv("HOME"), ".mudra", "scripts", workerScript),
	)
}

// findVenvPython looks for a Python interpreter in a virtual environment
// next to the working directory, the executable or ~/.mudra.
func findVenvPython() string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	return firstExisting(
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mudra/venv/bin/python"),
	)
}

func firstExisting(paths ...string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}

func (h workerHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	for i := 0; i < NumLandmarks && i < len(h.Points); i++ {
		lm.Points[i] = h.Points[i]
	}
	return lm
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
