package runtime

import (
	"context"
	"slices"
	"testing"

	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

func TestNewResourceDescribesService(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Mode = "exec"
	res, err := newResource(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		string(semconv.ServiceNameKey):    "fwtypes",
		string(semconv.ServiceVersionKey): Version,
		"fwtypes.engine.mode":             "exec",
		"fwtypes.stt.default_profile":     cfg.STT.DefaultProfile,
	}
	set := res.Set()
	for key, value := range want {
		got, ok := set.Value(attribute.Key(key))
		if !ok || got.AsString() != value {
			t.Fatalf("expected %s=%q, got %q", key, value, got.AsString())
		}
	}
}

func TestRunDurationViewBuckets(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.Empty()),
		sdkmetric.WithView(runDurationView()),
	)
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	hist, err := provider.Meter("test").Float64Histogram(runDurationMetric)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	hist.Record(context.Background(), 42)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rm.ScopeMetrics) != 1 || len(rm.ScopeMetrics[0].Metrics) != 1 {
		t.Fatalf("unexpected metrics %+v", rm.ScopeMetrics)
	}
	data, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	if !ok || len(data.DataPoints) != 1 {
		t.Fatalf("expected one histogram point, got %T", rm.ScopeMetrics[0].Metrics[0].Data)
	}
	point := data.DataPoints[0]
	if !slices.Equal(point.Bounds, runDurationBuckets) {
		t.Fatalf("unexpected bounds %v", point.Bounds)
	}
	if i := slices.Index(runDurationBuckets, 60); point.BucketCounts[i] != 1 {
		t.Fatalf("expected 42s in the (30, 60] bucket, got %v", point.BucketCounts)
	}
}

func TestInitTracerWithoutExporter(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = "production"
	tp, err := initTracer(context.Background(), cfg, resource.Empty(), newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "run")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
