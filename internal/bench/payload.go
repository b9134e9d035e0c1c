package bench

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"
)

// ErrPayloadCreation is wrapped by every PreparePayload failure.
var ErrPayloadCreation = errors.New("payload creation failed")

const payloadChunk = 1 << 20

// Payload is a temporary file of random bytes sent by one transfer.
type Payload struct {
	Path   string
	SizeKB float64
}

// PreparePayload writes sizeKB KiB of pseudo-random bytes to a new temp file
// in dir (os.TempDir when empty). A partially written file is removed.
func PreparePayload(dir string, sizeKB int) (Payload, error) {
	if sizeKB <= 0 {
		return Payload{}, fmt.Errorf("%w: size %d KB", ErrPayloadCreation, sizeKB)
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("satsim_%dkb_*.bin", sizeKB))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrPayloadCreation, err)
	}
	path := f.Name()

	fail := func(err error) (Payload, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return Payload{}, fmt.Errorf("%w: %s: %v", ErrPayloadCreation, path, err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	remaining := int64(sizeKB) * 1024
	buf := make([]byte, min(remaining, payloadChunk))
	for remaining > 0 {
		n := min(remaining, int64(len(buf)))
		_, _ = rng.Read(buf[:n])
		if _, err := f.Write(buf[:n]); err != nil {
			return fail(err)
		}
		remaining -= n
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Payload{}, fmt.Errorf("%w: %s: %v", ErrPayloadCreation, path, err)
	}
	return Payload{Path: path, SizeKB: float64(sizeKB)}, nil
}

// Remove deletes the payload file; a missing file is ignored.
func (p Payload) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
