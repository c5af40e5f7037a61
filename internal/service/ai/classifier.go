package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"polo/internal/config"
	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/service/classify"
)

const (
	// InputSize is the square input edge of the MARCO network.
	InputSize = 599
)

// Labels is the output order of the MARCO network.
var Labels = []model.Classification{model.ClassClear, model.ClassCrystals, model.ClassOther, model.ClassPrecipitate}

var ErrNetworkUnavailable = errors.New("classification network not initialized")

// MarcoClassifier runs the MARCO crystallization model through the OpenCV DNN module.
type MarcoClassifier struct {
	net        gocv.Net
	ready      bool
	mu         sync.Mutex
	modelPath  string
	configPath string
	logger     *logger.Logger
}

// NewMarcoClassifier loads the network named in config. A classifier whose
// network failed to load is still returned and fails every call.
func NewMarcoClassifier(config *config.Config, logger *logger.Logger) *MarcoClassifier {
	c := &MarcoClassifier{
		modelPath:  config.ModelPath,
		configPath: config.ModelConfigPath,
		logger:     logger,
	}
	if err := c.initializeNet(); err != nil {
		c.logger.Warning("Could not initialize classification network: %v", err)
	}
	return c
}

func (c *MarcoClassifier) initializeNet() error {
	if c.modelPath == "" {
		return fmt.Errorf("no model path configured")
	}
	if _, err := os.Stat(c.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", c.modelPath)
	}
	if c.configPath != "" {
		if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", c.configPath)
		}
	}

	net := gocv.ReadNet(c.modelPath, c.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	c.net = net
	c.ready = true
	c.logger.Info("Classification network initialized from %s", c.modelPath)
	return nil
}

// Ready reports whether the network loaded.
func (c *MarcoClassifier) Ready() bool { return c.ready }

// Classify decodes the image and runs one forward pass.
func (c *MarcoClassifier) Classify(ctx context.Context, ref classify.ImageRef) (model.Classification, map[model.Classification]float64, error) {
	if !c.ready {
		return "", nil, ErrNetworkUnavailable
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	mat, err := gocv.IMDecode(ref.Data, gocv.IMReadColor)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return "", nil, fmt.Errorf("decoded image is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(InputSize, InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	c.mu.Lock()
	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	c.mu.Unlock()
	defer output.Close()

	if output.Total() < len(Labels) {
		return "", nil, fmt.Errorf("network returned %d scores, want %d", output.Total(), len(Labels))
	}
	scores := make([]float64, len(Labels))
	for i := range scores {
		scores[i] = float64(output.GetFloatAt(0, i))
	}
	label, confidence := predict(scores, Labels)
	return label, confidence, nil
}

// Close releases the network.
func (c *MarcoClassifier) Close() error {
	if c.ready {
		c.ready = false
		return c.net.Close()
	}
	return nil
}

// predict turns raw scores into the best label and a confidence map. Scores
// that are not already a probability distribution go through softmax.
func predict(scores []float64, labels []model.Classification) (model.Classification, map[model.Classification]float64) {
	if !isDistribution(scores) {
		scores = softmax(scores)
	}
	confidence := make(map[model.Classification]float64, len(labels))
	best := 0
	for i, l := range labels {
		confidence[l] = scores[i]
		if scores[i] > scores[best] {
			best = i
		}
	}
	return labels[best], confidence
}

func isDistribution(scores []float64) bool {
	sum := 0.0
	for _, s := range scores {
		if s < 0 || s > 1 {
			return false
		}
		sum += s
	}
	return math.Abs(sum-1) < 1e-3
}

func softmax(scores []float64) []float64 {
	peak := scores[0]
	for _, s := range scores {
		peak = max(peak, s)
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
