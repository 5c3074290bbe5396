// Package jsl defines the YAML job definitions: a job is an ordered list of
// chunk steps and splits whose readers, processors and writers are referenced
// by name and built by registered component builders.
package jsl

import (
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// Job is the top-level structure of a job definition file.
type Job struct {
	// ID is the name the job is launched by.
	ID          string         `yaml:"id"`
	Description string         `yaml:"description,omitempty"`
	Flow        []Element      `yaml:"flow"`
	Listeners   []ComponentRef `yaml:"listeners,omitempty"`
}

// Element is one entry of a job flow. Exactly one field is set.
type Element struct {
	Step  *Step  `yaml:"step,omitempty"`
	Split *Split `yaml:"split,omitempty"`
}

// Step is a chunk-oriented step.
type Step struct {
	ID        string       `yaml:"id"`
	Reader    ComponentRef `yaml:"reader"`
	Processor ComponentRef `yaml:"processor,omitempty"`
	Writer    ComponentRef `yaml:"writer"`
	Chunk     Chunk        `yaml:"chunk,omitempty"`
	// TransactionManager names the datasource whose transaction wraps each chunk.
	// Empty means a resourceless transaction.
	TransactionManager string         `yaml:"transaction-manager,omitempty"`
	Listeners          []ComponentRef `yaml:"listeners,omitempty"`
}

// Chunk holds per-step overrides of the chunkflow.batch defaults.
type Chunk struct {
	ItemCount      int    `yaml:"item-count,omitempty"`
	IsolationLevel string `yaml:"isolation-level,omitempty"`
	// Timeout in seconds, checked between chunks.
	Timeout int `yaml:"timeout,omitempty"`
}

// Split runs its steps in parallel.
type Split struct {
	ID       string `yaml:"id"`
	PoolSize int    `yaml:"pool-size,omitempty"`
	Steps    []Step `yaml:"steps"`
}

// ComponentRef refers to a registered component builder.
type ComponentRef struct {
	Ref        string            `yaml:"ref"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// ComponentBuilder builds a reader, processor or writer. The result must be a
// port.ItemReader[any], port.ItemProcessor[any, any] or port.ItemWriter[any];
// use AnyReader, AnyProcessor and AnyWriter to adapt typed components.
type ComponentBuilder func(cfg *config.Config, properties map[string]string) (interface{}, error)

// ListenerBuilder builds a job or step listener. The result must implement at
// least one of the listener interfaces of the port package.
type ListenerBuilder func(cfg *config.Config, properties map[string]string) (interface{}, error)

// JobExecutionListenerBuilder builds a job listener.
type JobExecutionListenerBuilder func(cfg *config.Config, properties map[string]string) (port.JobExecutionListener, error)

// JSLDefinitionBytes is the content of one job definition file.
type JSLDefinitionBytes []byte
