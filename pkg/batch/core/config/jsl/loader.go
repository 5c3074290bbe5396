package jsl

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Definitions holds loaded job definitions by ID.
type Definitions struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewDefinitions creates an empty set of definitions.
func NewDefinitions() *Definitions {
	return &Definitions{jobs: make(map[string]Job)}
}

// LoadFromBytes parses one job definition file and adds it.
func (d *Definitions) LoadFromBytes(data []byte) (Job, error) {
	var jobDef Job
	if err := yaml.Unmarshal(data, &jobDef); err != nil {
		return Job{}, exception.NewBatchError("jsl_loader", "failed to parse job definition", err, false, false)
	}
	if err := Validate(jobDef); err != nil {
		return Job{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.jobs[jobDef.ID]; exists {
		return Job{}, exception.NewBatchErrorf("jsl_loader", "job '%s' is defined twice", jobDef.ID)
	}
	d.jobs[jobDef.ID] = jobDef
	logger.Infof("Loaded job definition '%s' (%d flow element(s)).", jobDef.ID, len(jobDef.Flow))
	return jobDef, nil
}

// Get returns the definition of jobID.
func (d *Definitions) Get(jobID string) (Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[jobID]
	return j, ok
}

// Names returns the IDs of every loaded job, sorted.
func (d *Definitions) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.jobs))
	for n := range d.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the structure of a job definition.
func Validate(j Job) error {
	if j.ID == "" {
		return exception.NewBatchErrorf("jsl_loader", "job definition has no 'id'")
	}
	if len(j.Flow) == 0 {
		return exception.NewBatchErrorf("jsl_loader", "job '%s' has an empty flow", j.ID)
	}
	seen := make(map[string]bool)
	checkStep := func(s Step) error {
		switch {
		case s.ID == "":
			return fmt.Errorf("a step has no 'id'")
		case seen[s.ID]:
			return fmt.Errorf("step '%s' is defined twice", s.ID)
		case s.Reader.Ref == "":
			return fmt.Errorf("step '%s' has no reader", s.ID)
		case s.Writer.Ref == "":
			return fmt.Errorf("step '%s' has no writer", s.ID)
		case s.Chunk.ItemCount < 0:
			return fmt.Errorf("step '%s': item-count must not be negative", s.ID)
		}
		seen[s.ID] = true
		return nil
	}
	for i, e := range j.Flow {
		var err error
		switch {
		case e.Step != nil && e.Split != nil:
			err = fmt.Errorf("flow element %d declares both a step and a split", i)
		case e.Step != nil:
			err = checkStep(*e.Step)
		case e.Split != nil:
			if len(e.Split.Steps) == 0 {
				err = fmt.Errorf("split '%s' has no steps", e.Split.ID)
			}
			for _, s := range e.Split.Steps {
				if err == nil {
					err = checkStep(s)
				}
			}
		default:
			err = fmt.Errorf("flow element %d is empty", i)
		}
		if err != nil {
			return exception.NewBatchError("jsl_loader", fmt.Sprintf("invalid job '%s'", j.ID), err, false, false)
		}
	}
	return nil
}
