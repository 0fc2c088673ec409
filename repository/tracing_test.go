package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/BaSui01/datalayer/repository"
	"github.com/BaSui01/datalayer/testutil"
	"github.com/BaSui01/datalayer/testutil/fixtures"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prev := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func TestRepository_OperationsAreTraced(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := setupManager(t)
	recorder := installRecorder(t)

	repo := repository.New[fixtures.User, uint](m)
	created, err := repo.Create(ctx, fixtures.NewUser(1))
	require.NoError(t, err)

	_, err = repo.Create(ctx, fixtures.User{Name: "dup", Email: created.Email})
	require.Error(t, err)

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		byName[s.Name()] = append(byName[s.Name()], s)
	}

	spans := byName["repository.create"]
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	acquires := byName["datalayer.AcquireSession"]
	require.Len(t, acquires, 2)
	assert.Equal(t, spans[0].SpanContext().SpanID(), acquires[0].Parent().SpanID())
}
