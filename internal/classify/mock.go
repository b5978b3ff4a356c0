package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
)

// MockBackend approximates the service with a local brightness
// heuristic so the system can run without an API key. A large dark
// region in the frame is treated as a potential person.
type MockBackend struct {
	darkThreshold uint8
	darkRatio     float64
}

// NewMockBackend creates the heuristic backend with stock thresholds.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		darkThreshold: 60,
		darkRatio:     0.3,
	}
}

func (b *MockBackend) Name() string { return "mock" }

// Generate decodes the frame and answers with the same JSON contract
// the real service uses.
func (b *MockBackend) Generate(_ context.Context, jpegFrame []byte, _ string) (string, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegFrame))
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}

	ratio := darkFraction(img, b.darkThreshold)

	resp := serviceResponse{
		ThreatLevel:         "low",
		Description:         "Scene appears calm, no unusual activity.",
		DescriptionRegional: "దృశ్యం ప్రశాంతంగా కనిపిస్తోంది, అసాధారణ కార్యకలాపం లేదు.",
		Category:            "empty",
		Details:             fmt.Sprintf("Normal scene, dark region: %.1f%%", ratio*100),
	}
	if ratio > b.darkRatio {
		resp = serviceResponse{
			ThreatLevel:         "medium",
			Description:         "Large object or person detected in frame.",
			DescriptionRegional: "ఫ్రేమ్‌లో పెద్ద వస్తువు లేదా వ్యక్తి గుర్తించబడింది.",
			Category:            "stranger",
			Details:             fmt.Sprintf("Dark region covers %.1f%% of frame.", ratio*100),
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *MockBackend) Close() error { return nil }

func darkFraction(img image.Image, threshold uint8) float64 {
	bounds := img.Bounds()
	var dark, total int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			brightness := (r + g + bl) / 3 >> 8
			if uint8(brightness) < threshold {
				dark++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(dark) / float64(total)
}
