// Package tracing 负责初始化 OpenTelemetry 链路追踪。
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config 描述追踪配置。
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
	// Output 为 stdout 导出器的输出目标，默认 os.Stdout。
	Output io.Writer `yaml:"-"`
}

// Shutdown 刷新并关闭追踪导出器。
type Shutdown func(context.Context) error

// Setup 按配置创建 TracerProvider 并注册为全局实例。未启用时返回 noop 实现。
func Setup(_ context.Context, cfg Config) (trace.TracerProvider, Shutdown, error) {
	nop := func(context.Context) error { return nil }
	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "noop" {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nop, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, nil, fmt.Errorf("创建 stdout 导出器失败: %w", err)
		}
		exporter = exp
	default:
		return nil, nil, fmt.Errorf("不支持的追踪导出器: %s", cfg.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
