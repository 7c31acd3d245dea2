package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	id       string
	writes   *[]string
	produces []Descriptor
	consumes []any
	collect  map[string]Artifact
	prepared map[string][]Artifact
	writeErr error
}

func (f *fakeSink) Write(_ context.Context, _ map[string]any, _ map[string]any) error {
	if f.writes != nil {
		*f.writes = append(*f.writes, f.id)
	}
	return f.writeErr
}

func (f *fakeSink) Produces() []Descriptor { return f.produces }
func (f *fakeSink) Consumes() []any        { return f.consumes }

func (f *fakeSink) PrepareArtifacts(consumed map[string][]Artifact) error {
	f.prepared = consumed
	return nil
}

func (f *fakeSink) CollectArtifacts() map[string]Artifact { return f.collect }

func TestOrder_ResolvesLinearDependencyByAlias(t *testing.T) {
	producer := &fakeSink{id: "p", produces: []Descriptor{{Name: "out", Type: "data/json", Alias: "result"}}}
	consumer := &fakeSink{id: "c", consumes: []any{"@result"}}

	pb, err := NewBinding("p", "memory", producer, nil, nil, "", 1)
	require.NoError(t, err)
	cb, err := NewBinding("c", "memory", consumer, nil, nil, "", 0)
	require.NoError(t, err)

	pipeline, err := NewPipeline([]SinkBinding{cb, pb})
	require.NoError(t, err)

	order := pipeline.Order()
	require.Len(t, order, 2)
	assert.Equal(t, "p", order[0].ID)
	assert.Equal(t, "c", order[1].ID)
}

func TestOrder_ReadyQueueBreaksTiesByOriginalIndex(t *testing.T) {
	a := &fakeSink{id: "a"}
	b := &fakeSink{id: "b"}
	c := &fakeSink{id: "c"}

	ba, _ := NewBinding("a", "memory", a, nil, nil, "", 2)
	bb, _ := NewBinding("b", "memory", b, nil, nil, "", 0)
	bc, _ := NewBinding("c", "memory", c, nil, nil, "", 1)

	pipeline, err := NewPipeline([]SinkBinding{ba, bb, bc})
	require.NoError(t, err)

	var ids []string
	for _, bnd := range pipeline.Order() {
		ids = append(ids, bnd.ID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestOrder_DetectsCycle(t *testing.T) {
	a := &fakeSink{id: "a", produces: []Descriptor{{Name: "out", Type: "data/json", Alias: "a-out"}}, consumes: []any{"@b-out"}}
	b := &fakeSink{id: "b", produces: []Descriptor{{Name: "out", Type: "data/json", Alias: "b-out"}}, consumes: []any{"@a-out"}}

	ba, err := NewBinding("a", "memory", a, nil, nil, "", 0)
	require.NoError(t, err)
	bb, err := NewBinding("b", "memory", b, nil, nil, "", 1)
	require.NoError(t, err)

	_, err = NewPipeline([]SinkBinding{ba, bb})
	require.Error(t, err)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.ErrorIs(t, err, ErrSinkCycle)
}

func TestOrder_RejectsDependencyBelowConsumerClearance(t *testing.T) {
	producer := &fakeSink{id: "p", produces: []Descriptor{{Name: "out", Type: "data/json", Alias: "secret", SecurityLevel: "secret"}}}
	consumer := &fakeSink{id: "c", consumes: []any{"@secret"}}

	pb, err := NewBinding("p", "memory", producer, nil, nil, "secret", 0)
	require.NoError(t, err)
	cb, err := NewBinding("c", "memory", consumer, nil, nil, "official", 1)
	require.NoError(t, err)

	_, err = NewPipeline([]SinkBinding{pb, cb})
	require.Error(t, err)
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, ErrClearanceViolation)
}

func TestRun_CollectsProducedArtifactsAndPassesCumulativeAllToFinalize(t *testing.T) {
	var writes []string
	producer := &fakeSink{
		id:     "p",
		writes: &writes,
		produces: []Descriptor{{Name: "out", Type: "data/json", Alias: "result"}},
		collect:  map[string]Artifact{"out": {Payload: "hello"}},
	}
	var seenAtFinalize map[string]Artifact
	consumer := &finalizingSink{fakeSink: fakeSink{id: "c", writes: &writes, consumes: []any{"@result"}}, seen: &seenAtFinalize}

	pb, err := NewBinding("p", "memory", producer, nil, nil, "", 0)
	require.NoError(t, err)
	cb, err := NewBinding("c", "memory", consumer, nil, nil, "", 1)
	require.NoError(t, err)

	pipeline, err := NewPipeline([]SinkBinding{pb, cb})
	require.NoError(t, err)

	err = pipeline.Run(context.Background(), map[string]any{}, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, []string{"p", "c"}, writes)
	require.Contains(t, seenAtFinalize, "p:out")
	assert.Equal(t, "hello", seenAtFinalize["p:out"].Payload)
	require.Contains(t, consumer.prepared, "@result")
	require.Len(t, consumer.prepared["@result"], 1)
	assert.Equal(t, "hello", consumer.prepared["@result"][0].Payload)
}

type finalizingSink struct {
	fakeSink
	seen *map[string]Artifact
}

func (f *finalizingSink) Finalize(all map[string]Artifact, _ map[string]any) error {
	*f.seen = all
	return nil
}

func TestRun_RejectsExecutionTimeClearanceViolation(t *testing.T) {
	producer := &fakeSink{id: "p", produces: []Descriptor{{Name: "out", Type: "data/json", Alias: "secret"}}, collect: map[string]Artifact{"out": {Payload: "x", SecurityLevel: "secret"}}}
	consumer := &fakeSink{id: "c", consumes: []any{"@secret"}}

	pb, err := NewBinding("p", "memory", producer, nil, nil, "", 0)
	require.NoError(t, err)
	cb, err := NewBinding("c", "memory", consumer, nil, nil, "official", 1)
	require.NoError(t, err)

	pipeline, err := NewPipeline([]SinkBinding{pb, cb})
	require.NoError(t, err)

	err = pipeline.Run(context.Background(), map[string]any{}, map[string]any{})
	require.Error(t, err)
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "p:out", permErr.ArtifactID)
}
