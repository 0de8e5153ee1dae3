package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ProvisionStage names a step of the provision workflow.
type ProvisionStage string

const (
	StageImage     ProvisionStage = "image"
	StageCreate    ProvisionStage = "create"
	StageStart     ProvisionStage = "start"
	StageCompleted ProvisionStage = "completed"
)

// stageOrder is the order stages run in.
var stageOrder = []ProvisionStage{StageImage, StageCreate, StageStart, StageCompleted}

const StateSchemaVersion = "1.0"

// BucketState is what resen remembers about one bucket between runs: the
// container handle and how far provisioning got.
type BucketState struct {
	RunID               string         `json:"run_id"`
	Bucket              string         `json:"bucket"`
	ContainerID         string         `json:"container_id,omitempty"`
	LastSuccessfulStage ProvisionStage `json:"last_successful_stage"`
	CreatedAt           time.Time      `json:"created_at"`
	LastUpdatedAt       time.Time      `json:"last_updated_at"`
}

type stateFile struct {
	SchemaVersion string                  `json:"schema_version"`
	Buckets       map[string]*BucketState `json:"buckets"`
}

// StateStore persists bucket state as a single JSON document.
type StateStore struct {
	path string
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the location of the state file.
func (s *StateStore) Path() string {
	return s.path
}

// Load returns the state recorded for bucket, or nil if there is none.
func (s *StateStore) Load(bucket string) (*BucketState, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Buckets[bucket], nil
}

// Save records state, replacing whatever was stored for the same bucket.
func (s *StateStore) Save(state *BucketState) error {
	doc, err := s.read()
	if err != nil {
		return err
	}

	state.LastUpdatedAt = time.Now()
	doc.Buckets[state.Bucket] = state
	return s.write(doc)
}

// Delete forgets bucket. Deleting an unknown bucket is not an error.
func (s *StateStore) Delete(bucket string) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Buckets[bucket]; !ok {
		return nil
	}

	delete(doc.Buckets, bucket)
	return s.write(doc)
}

// ContainerID returns the recorded container handle for bucket, if any.
func (s *StateStore) ContainerID(bucket string) (string, error) {
	state, err := s.Load(bucket)
	if err != nil || state == nil {
		return "", err
	}
	return state.ContainerID, nil
}

func (s *StateStore) read() (*stateFile, error) {
	doc := &stateFile{
		SchemaVersion: StateSchemaVersion,
		Buckets:       map[string]*BucketState{},
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	if doc.Buckets == nil {
		doc.Buckets = map[string]*BucketState{}
	}
	return doc, nil
}

func (s *StateStore) write(doc *stateFile) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func newBucketState(bucket, runID string) *BucketState {
	now := time.Now()
	return &BucketState{
		RunID:         runID,
		Bucket:        bucket,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// shouldSkipStage reports whether stage already completed in an earlier run.
func (s *BucketState) shouldSkipStage(stage ProvisionStage) bool {
	if s == nil || s.LastSuccessfulStage == "" {
		return false
	}
	return stageIndex(stage) <= stageIndex(s.LastSuccessfulStage)
}

// getNextStage returns the first stage that has not completed yet.
func (s *BucketState) getNextStage() ProvisionStage {
	if s == nil || s.LastSuccessfulStage == "" {
		return StageImage
	}
	i := stageIndex(s.LastSuccessfulStage)
	if i < 0 || i+1 >= len(stageOrder) {
		return StageCompleted
	}
	return stageOrder[i+1]
}

func stageIndex(stage ProvisionStage) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}
