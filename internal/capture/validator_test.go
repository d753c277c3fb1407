package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var palette = []color.RGBA{
	{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}, {255, 255, 0, 255},
	{0, 255, 255, 255}, {255, 0, 255, 255}, {128, 128, 128, 255}, {255, 128, 0, 255},
	{128, 0, 255, 255}, {0, 128, 255, 255}, {200, 200, 200, 255}, {90, 200, 60, 255},
}

// chartImage paints the top rows in colour bands over a dark background.
func chartImage(width, height, paintedRows int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{10, 12, 18, 255}
			if y < paintedRows {
				c = palette[(x/10)%len(palette)]
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func uniformImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestValidatorAcceptsPopulatedChart(t *testing.T) {
	v := NewValidator(Thresholds{}, nil)
	report, err := v.Validate(FromImage(chartImage(200, 100, 20)), 200, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.ColorDiversity, 10)
	assert.GreaterOrEqual(t, report.ContentPercentage, 5.0)
	assert.Equal(t, 4000, report.Sampled)
}

func TestValidatorRejectsUniformImages(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)
	for name, c := range map[string]color.RGBA{
		"background": {10, 12, 18, 255},
		"bright":     {230, 230, 230, 255},
	} {
		t.Run(name, func(t *testing.T) {
			report, err := v.Validate(FromImage(uniformImage(200, 100, c)), 0, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInsufficientContent))

			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, ReasonInsufficientContent, rejected.Reason)
			assert.Equal(t, 1, rejected.ColorDiversity)
			assert.Equal(t, report.ContentPercentage, rejected.ContentPercentage)
		})
	}
}

func TestValidatorRejectsEmptyAndMismatched(t *testing.T) {
	v := NewValidator(Thresholds{}, nil)

	_, err := v.Validate(Artifact{}, 0, 0)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonEmptyCapture, rejected.Reason)

	_, err = v.Validate(FromImage(chartImage(200, 100, 20)), 300, 100)
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonDimensionMismatch, rejected.Reason)
}

func TestSmallImageSamplesEveryPixel(t *testing.T) {
	v := NewValidator(Thresholds{}, nil)
	report, err := v.Validate(FromImage(chartImage(120, 20, 10)), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2400, report.Sampled)
	assert.Equal(t, 1200, report.NonBackground)
	assert.InDelta(t, 50.0, report.ContentPercentage, 0.001)
}

func TestArtifactPNGRoundTrip(t *testing.T) {
	original := FromImage(chartImage(60, 30, 10))
	data, err := original.EncodePNG()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, original.Width, decoded.Width)
	assert.Equal(t, original.Pix, decoded.Pix)

	_, err = Decode([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestRetrierRetriesUntilRendered(t *testing.T) {
	frames := []Artifact{
		FromImage(uniformImage(200, 100, color.RGBA{10, 12, 18, 255})),
		FromImage(chartImage(200, 100, 20)),
	}
	calls := 0
	source := SourceFunc(func(context.Context) (Artifact, error) {
		frame := frames[calls]
		calls++
		return frame, nil
	})

	var waits []time.Duration
	r := NewRetrier(source, NewValidator(Thresholds{}, nil), RetryPolicy{InitialWait: 3 * time.Second, ExtraDelay: 2 * time.Second, MaxAttempts: 3}, nil)
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	artifact, _, err := r.Capture(context.Background(), 200, 100)
	require.NoError(t, err)
	assert.Equal(t, 200, artifact.Width)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second}, waits)
}

func TestRetrierGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	source := SourceFunc(func(context.Context) (Artifact, error) {
		calls++
		return FromImage(uniformImage(50, 50, color.RGBA{0, 0, 0, 255})), nil
	})
	r := NewRetrier(source, NewValidator(Thresholds{}, nil), RetryPolicy{MaxAttempts: 2}, nil)
	r.sleep = func(context.Context, time.Duration) error { return nil }

	_, _, err := r.Capture(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrInsufficientContent)
	assert.Equal(t, 2, calls)
}

func TestRetrierStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRetrier(SourceFunc(func(context.Context) (Artifact, error) {
		t.Fatal("source must not be called after cancellation")
		return Artifact{}, nil
	}), NewValidator(Thresholds{}, nil), RetryPolicy{InitialWait: time.Minute, MaxAttempts: 3}, nil)

	_, _, err := r.Capture(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPSourceDecodesSnapshot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, chartImage(80, 40, 10)))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshot.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	artifact, err := NewHTTPSource(server.URL+"/snapshot.png", time.Second).Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 80, artifact.Width)
	assert.Equal(t, 40, artifact.Height)

	_, err = NewHTTPSource(server.URL+"/missing", time.Second).Capture(context.Background())
	assert.Error(t, err)
}
