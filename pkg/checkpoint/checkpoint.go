// Package checkpoint saves and restores model configurations and weights.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soundprediction/piqa/pkg/model"
	"github.com/soundprediction/piqa/pkg/nn"
	"github.com/soundprediction/piqa/pkg/utils"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCheckpointName is returned when a checkpoint name contains invalid characters
var ErrInvalidCheckpointName = errors.New("invalid checkpoint name: contains path traversal or invalid characters")

// ErrNotFound is returned when a checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

const (
	configFile  = "config.yaml"
	weightsFile = "weights.npz"
	stateFile   = "state.yaml"
)

// State records training progress alongside the weights.
type State struct {
	Name          string    `yaml:"name"`
	Step          int       `yaml:"step"`
	Loss          float64   `yaml:"loss,omitempty"`
	ParamCount    int       `yaml:"param_count"`
	CreatedAt     time.Time `yaml:"created_at"`
	LastUpdatedAt time.Time `yaml:"last_updated_at"`
}

// Checkpoint is a loaded checkpoint.
type Checkpoint struct {
	State   State
	Config  model.Config
	Weights map[string]*mat.Dense
}

// Manager stores checkpoints as directories under a root directory.
type Manager struct {
	checkpointDir string
}

// NewManager creates a manager rooted at checkpointDir.
// If checkpointDir is empty, uses os.TempDir()/piqa-checkpoints
func NewManager(checkpointDir string) (*Manager, error) {
	if checkpointDir == "" {
		checkpointDir = filepath.Join(os.TempDir(), "piqa-checkpoints")
	}
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{checkpointDir: checkpointDir}, nil
}

// Dir returns the root directory.
func (m *Manager) Dir() string {
	return m.checkpointDir
}

// validateName rejects empty names, separators, traversal and null bytes.
func validateName(name string) error {
	if name == "" || name == "." {
		return ErrInvalidCheckpointName
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, '\x00') {
		return ErrInvalidCheckpointName
	}
	return nil
}

func isPathWithinDirectory(path, directory string) bool {
	cleanPath := filepath.Clean(path)
	cleanDir := filepath.Clean(directory)
	if !strings.HasSuffix(cleanDir, string(filepath.Separator)) {
		cleanDir += string(filepath.Separator)
	}
	return strings.HasPrefix(cleanPath, cleanDir)
}

// Path returns the directory of a checkpoint.
func (m *Manager) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	full := filepath.Join(m.checkpointDir, name)
	if !isPathWithinDirectory(full, m.checkpointDir) {
		return "", ErrInvalidCheckpointName
	}
	return full, nil
}

// Save writes the config, weights and state of a checkpoint. Files are
// written to temporary names and renamed into place.
func (m *Manager) Save(ctx context.Context, name string, cfg model.Config, params nn.Params, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := m.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint %s: %w", name, err)
	}

	now := time.Now().UTC()
	if prev, err := m.readState(dir); err == nil {
		state.CreatedAt = prev.CreatedAt
	} else if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.Name = name
	state.LastUpdatedAt = now
	state.ParamCount = params.Count()

	weights := filepath.Join(dir, weightsFile)
	if err := utils.WriteNPZMatrices(weights+".tmp", params); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := os.Rename(weights+".tmp", weights); err != nil {
		return fmt.Errorf("failed to rename weights file: %w", err)
	}
	if err := writeYAML(filepath.Join(dir, configFile), cfg); err != nil {
		return err
	}
	return writeYAML(filepath.Join(dir, stateFile), state)
}

// Load reads a checkpoint.
func (m *Manager) Load(ctx context.Context, name string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := m.Path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, weightsFile)); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	cp := &Checkpoint{Config: model.DefaultConfig()}
	if err := readYAML(filepath.Join(dir, configFile), &cp.Config); err != nil {
		return nil, err
	}
	state, err := m.readState(dir)
	if err != nil {
		return nil, err
	}
	cp.State = *state
	if cp.Weights, err = utils.ReadNPZMatrices(filepath.Join(dir, weightsFile)); err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	return cp, nil
}

// Restore builds a model from the saved config and copies the saved
// weights into it.
func (m *Manager) Restore(ctx context.Context, name string, embedder model.Embedder, logger *slog.Logger) (*model.Model, *State, error) {
	cp, err := m.Load(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	mdl, err := model.New(cp.Config, embedder, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	if err := mdl.Params().Load(cp.Weights); err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return mdl, &cp.State, nil
}

// Exists reports whether a checkpoint has been saved under name.
func (m *Manager) Exists(name string) (bool, error) {
	dir, err := m.Path(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(filepath.Join(dir, weightsFile)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check checkpoint existence: %w", err)
	}
	return true, nil
}

// Delete removes a checkpoint. Deleting a missing checkpoint is not an error.
func (m *Manager) Delete(name string) error {
	dir, err := m.Path(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", name, err)
	}
	return nil
}

// List returns the state of every readable checkpoint.
func (m *Manager) List() ([]State, error) {
	entries, err := os.ReadDir(m.checkpointDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	var states []State
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := m.readState(filepath.Join(m.checkpointDir, entry.Name()))
		if err != nil {
			continue
		}
		states = append(states, *state)
	}
	return states, nil
}

// CleanOld removes checkpoints not updated within maxAge, keeping keep.
func (m *Manager) CleanOld(maxAge time.Duration, keep string) (int, error) {
	states, err := m.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, s := range states {
		if s.Name == keep || !s.LastUpdatedAt.Before(cutoff) {
			continue
		}
		if err := m.Delete(s.Name); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) readState(dir string) (*State, error) {
	var s State
	if err := readYAML(filepath.Join(dir, stateFile), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
