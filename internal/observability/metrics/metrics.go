package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes referral program instruments. A nil *Metrics is a no-op.
type Metrics struct {
	referralsCreated    metric.Int64Counter
	autoQualified       metric.Int64Counter
	pipelineTransitions metric.Int64Counter
	rewardsEmitted      metric.Int64Counter
	rewardsRedeemed     metric.Int64Counter
	jobsCompleted       metric.Int64Counter
	jobsFailed          metric.Int64Counter
	jobDuration         metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "referrals"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.referralsCreated, err = meter.Int64Counter("referrals_created_total"); err != nil {
		return nil, err
	}
	if m.autoQualified, err = meter.Int64Counter("referrals_auto_qualified_total"); err != nil {
		return nil, err
	}
	if m.pipelineTransitions, err = meter.Int64Counter("referrals_pipeline_transitions_total"); err != nil {
		return nil, err
	}
	if m.rewardsEmitted, err = meter.Int64Counter("referrals_rewards_emitted_total"); err != nil {
		return nil, err
	}
	if m.rewardsRedeemed, err = meter.Int64Counter("referrals_rewards_redeemed_total"); err != nil {
		return nil, err
	}
	if m.jobsCompleted, err = meter.Int64Counter("referrals_jobs_completed_total"); err != nil {
		return nil, err
	}
	if m.jobsFailed, err = meter.Int64Counter("referrals_jobs_failed_total"); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram("referrals_job_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordReferralCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.referralsCreated.Add(ctx, 1)
}

func (m *Metrics) RecordAutoQualified(ctx context.Context) {
	if m == nil {
		return
	}
	m.autoQualified.Add(ctx, 1)
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	)
	m.pipelineTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRewardsEmitted counts freshly created reward rows by dispatch mode.
func (m *Metrics) RecordRewardsEmitted(ctx context.Context, mode string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("mode", strings.TrimSpace(mode)))
	m.rewardsEmitted.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRewardRedeemed(ctx context.Context, beneficiaryType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("beneficiary_type", strings.TrimSpace(beneficiaryType)))
	m.rewardsRedeemed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordJobCompleted(ctx context.Context, job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("job", job))...)
	m.jobsCompleted.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordJobFailed counts a failed attempt; final is set when no retry remains.
func (m *Metrics) RecordJobFailed(ctx context.Context, job string, err error, final bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", job),
		attribute.String("reason", ClassifyJobReason(err)),
		attribute.Bool("final", final),
	)
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"from":             {},
	"to":               {},
	"mode":             {},
	"beneficiary_type": {},
	"job":              {},
	"reason":           {},
	"final":            {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
