package jsl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const productJob = `
id: productJob
description: copy products
flow:
  - step:
      id: importStep
      reader: { ref: productReader, properties: { path: products.csv } }
      processor: { ref: productProcessor }
      writer: { ref: productWriter }
      chunk: { item-count: 3, isolation-level: READ_COMMITTED }
      transaction-manager: output
  - split:
      id: exports
      pool-size: 2
      steps:
        - id: csvExport
          reader: { ref: outputReader }
          writer: { ref: csvWriter }
        - id: parquetExport
          reader: { ref: outputReader }
          writer: { ref: parquetWriter }
listeners:
  - ref: loggingListener
`

func TestDefinitions_LoadFromBytes(t *testing.T) {
	defs := NewDefinitions()
	j, err := defs.LoadFromBytes([]byte(productJob))
	require.NoError(t, err)

	assert.Equal(t, "productJob", j.ID)
	require.Len(t, j.Flow, 2)
	assert.Equal(t, "importStep", j.Flow[0].Step.ID)
	assert.Equal(t, 3, j.Flow[0].Step.Chunk.ItemCount)
	assert.Equal(t, "output", j.Flow[0].Step.TransactionManager)
	assert.Equal(t, "products.csv", j.Flow[0].Step.Reader.Properties["path"])
	assert.Equal(t, 2, j.Flow[1].Split.PoolSize)
	assert.Len(t, j.Flow[1].Split.Steps, 2)
	assert.Equal(t, []string{"productJob"}, defs.Names())

	_, err = defs.LoadFromBytes([]byte(productJob))
	assert.ErrorContains(t, err, "defined twice")
}

func TestValidate(t *testing.T) {
	step := func(id string) *Step {
		return &Step{ID: id, Reader: ComponentRef{Ref: "r"}, Writer: ComponentRef{Ref: "w"}}
	}
	cases := map[string]Job{
		"no id":       {Flow: []Element{{Step: step("a")}}},
		"empty flow":  {ID: "j"},
		"no writer":   {ID: "j", Flow: []Element{{Step: &Step{ID: "a", Reader: ComponentRef{Ref: "r"}}}}},
		"both":        {ID: "j", Flow: []Element{{Step: step("a"), Split: &Split{ID: "s", Steps: []Step{*step("b")}}}}},
		"empty elem":  {ID: "j", Flow: []Element{{}}},
		"dup step":    {ID: "j", Flow: []Element{{Step: step("a")}, {Split: &Split{ID: "s", Steps: []Step{*step("a")}}}}},
		"empty split": {ID: "j", Flow: []Element{{Split: &Split{ID: "s"}}}},
	}
	for name, j := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(j))
		})
	}
	assert.NoError(t, Validate(Job{ID: "j", Flow: []Element{{Step: step("a")}}}))
}

func TestDefinitions_InvalidYAML(t *testing.T) {
	_, err := NewDefinitions().LoadFromBytes([]byte("id: [unclosed"))
	assert.Error(t, err)
}

type streamWriter struct {
	got []string
}

func (w *streamWriter) Open(context.Context, model.ExecutionContext) error { return nil }
func (w *streamWriter) Write(_ context.Context, _ tx.Tx, items []string) error {
	w.got = append(w.got, items...)
	return nil
}
func (w *streamWriter) Close(context.Context) error { return nil }
func (w *streamWriter) Checkpoint() model.ExecutionContext {
	return model.ExecutionContext{"writer.lines": int64(len(w.got))}
}

func TestAnyWriter(t *testing.T) {
	ctx := context.Background()
	inner := &streamWriter{}
	w := AnyWriter[string](inner)

	require.NoError(t, w.Write(ctx, &tx.ResourcelessTx{}, []any{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, inner.got)
	assert.Equal(t, int64(2), w.(port.ItemStream).Checkpoint()["writer.lines"])

	err := w.Write(ctx, &tx.ResourcelessTx{}, []any{"c", 4})
	assert.True(t, exception.IsKind(err, exception.WriterFatal))
	assert.Len(t, inner.got, 2)
}

func TestAnyProcessor(t *testing.T) {
	ctx := context.Background()
	p := AnyProcessor[int, string](port.ItemProcessorFunc[int, string](func(_ context.Context, n int) (port.Result[string], error) {
		if n < 0 {
			return port.Invalid[string]("negative"), nil
		}
		return port.Processed("ok"), nil
	}))

	res, err := p.Process(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Item)

	res, err = p.Process(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, port.OutcomeInvalid, res.Outcome)
	assert.Equal(t, "negative", res.Reason)

	_, err = p.Process(ctx, "1")
	assert.Error(t, err)
}
