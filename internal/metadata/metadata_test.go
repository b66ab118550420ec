package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exhibitmedia/internal/models"
)

// stubWorker answers immediately with fixed fields.
type stubWorker struct {
	fields map[string]interface{}
}

func (w *stubWorker) ExtractMetadata(paths ...string) []exiftool.FileMetadata {
	return []exiftool.FileMetadata{{File: paths[0], Fields: w.fields}}
}

func (w *stubWorker) Close() error { return nil }

// wedgedWorker blocks until its Close is called, like an exiftool process
// hanging on malformed input.
type wedgedWorker struct {
	enterOnce sync.Once
	closeOnce sync.Once
	entered   chan struct{}
	killed    chan struct{}
}

func newWedgedWorker() *wedgedWorker {
	return &wedgedWorker{
		entered: make(chan struct{}),
		killed:  make(chan struct{}),
	}
}

func (w *wedgedWorker) ExtractMetadata(...string) []exiftool.FileMetadata {
	w.enterOnce.Do(func() { close(w.entered) })
	<-w.killed
	return nil
}

func (w *wedgedWorker) Close() error {
	w.closeOnce.Do(func() { close(w.killed) })
	return nil
}

func (w *wedgedWorker) inCall() bool {
	select {
	case <-w.entered:
		return true
	default:
		return false
	}
}

func (w *wedgedWorker) wasKilled() bool {
	select {
	case <-w.killed:
		return true
	default:
		return false
	}
}

func TestFieldsFor(t *testing.T) {
	assert.Equal(t, imageFields, fieldsFor(models.MediaTypeImage))
	assert.Equal(t, documentFields, fieldsFor(models.MediaTypeDocument))
	assert.Nil(t, fieldsFor(models.MediaTypeUnknown))
}

func TestFlatten_AllowListAndStringification(t *testing.T) {
	meta := exiftool.FileMetadata{
		Fields: map[string]interface{}{
			"Make":             "Kodak",
			"ISO":              float64(200),
			"FocalLength":      "6.3 mm",
			"GPSLatitude":      40.7128,
			"Director":         "not allow-listed",
			"SourceFile":       "/internal/path/leak.jpg",
			"ImageDescription": "",
		},
	}

	got := flatten(meta, imageFields)

	assert.Equal(t, "Kodak", got["Make"])
	assert.Equal(t, "200", got["ISO"])
	assert.Equal(t, "6.3 mm", got["FocalLength"])
	assert.Equal(t, "40.7128", got["GPSLatitude"])

	// Fields outside the allow-list never appear, and empty strings are
	// dropped rather than emitted.
	assert.NotContains(t, got, "Director")
	assert.NotContains(t, got, "SourceFile")
	assert.NotContains(t, got, "ImageDescription")
}

func TestFlatten_AbsentFieldsAreOmitted(t *testing.T) {
	meta := exiftool.FileMetadata{Fields: map[string]interface{}{}}
	got := flatten(meta, documentFields)
	assert.Empty(t, got)
}

func TestFlatten_NilValueSkipped(t *testing.T) {
	meta := exiftool.FileMetadata{Fields: map[string]interface{}{"Author": nil}}
	got := flatten(meta, documentFields)
	assert.NotContains(t, got, "Author")
}

func TestExtract_HealthyWorker(t *testing.T) {
	svc, err := newService(time.Second, nil, func() (worker, error) {
		return &stubWorker{fields: map[string]interface{}{"Make": "Kodak"}}, nil
	})
	require.NoError(t, err)
	defer svc.Shutdown()

	got, err := svc.Extract(context.Background(), "/tmp/x.jpg", models.MediaTypeImage)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Make": "Kodak"}, got)
}

func TestExtract_TimeoutKillsAndRespawnsWorker(t *testing.T) {
	wedged := newWedgedWorker()
	spawned := 0
	svc, err := newService(50*time.Millisecond, nil, func() (worker, error) {
		spawned++
		if spawned == 1 {
			return wedged, nil
		}
		return &stubWorker{fields: map[string]interface{}{"Make": "Kodak"}}, nil
	})
	require.NoError(t, err)
	defer svc.Shutdown()

	// First call wedges and times out. The stuck subprocess is killed so
	// the driving goroutine comes back.
	_, err = svc.Extract(context.Background(), "/tmp/wedge.jpg", models.MediaTypeImage)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, wedged.wasKilled(), "timed-out subprocess must be closed")
	assert.Equal(t, 2, spawned, "a replacement subprocess is spawned")

	// The service recovers: later extractions run on the replacement.
	require.Eventually(t, func() bool {
		got, err := svc.Extract(context.Background(), "/tmp/ok.jpg", models.MediaTypeImage)
		return err == nil && got["Make"] == "Kodak"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdown_NeverBlocksOnWedgedCall(t *testing.T) {
	wedged := newWedgedWorker()
	svc, err := newService(time.Hour, nil, func() (worker, error) {
		return wedged, nil
	})
	require.NoError(t, err)

	// Occupy the worker with a call that will never return on its own.
	go func() {
		_, _ = svc.Extract(context.Background(), "/tmp/wedge.jpg", models.MediaTypeImage)
	}()
	require.Eventually(t, wedged.inCall, time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- svc.Shutdown() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked on an in-flight extraction")
	}
	assert.True(t, wedged.wasKilled(), "shutdown must close the subprocess")
}

func TestExtract_AfterShutdown(t *testing.T) {
	svc, err := newService(time.Second, nil, func() (worker, error) {
		return &stubWorker{fields: map[string]interface{}{}}, nil
	})
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown())
	require.NoError(t, svc.Shutdown(), "shutdown is idempotent")

	_, err = svc.Extract(context.Background(), "/tmp/x.jpg", models.MediaTypeImage)
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func TestExtract_UnknownTypeSkipsWorker(t *testing.T) {
	svc, err := newService(time.Second, nil, func() (worker, error) {
		return &stubWorker{fields: map[string]interface{}{"Make": "never read"}}, nil
	})
	require.NoError(t, err)
	defer svc.Shutdown()

	got, err := svc.Extract(context.Background(), "/tmp/x.bin", models.MediaTypeUnknown)
	require.NoError(t, err)
	assert.Empty(t, got)
}
