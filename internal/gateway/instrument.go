package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"signalpush/pkg/logger"
	"signalpush/pkg/metrics"
	"signalpush/pkg/otel"
)

type instrumented struct {
	next   Client
	driver string
	logger *zap.Logger
}

// Instrument wraps c with a client span, the gateway latency histogram and
// a log line per call.
func Instrument(c Client, driver string, logger *zap.Logger) Client {
	return &instrumented{next: c, driver: driver, logger: logger}
}

func (i *instrumented) Send(ctx context.Context, tokens []string, msg Message) error {
	ctx, span := otel.StartSpan(ctx, "gateway.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("push.driver", i.driver),
			attribute.Int("push.tokens", len(tokens)),
		),
	)
	defer span.End()

	log := logger.WithTrace(ctx, i.logger)

	start := time.Now()
	err := i.next.Send(ctx, tokens, msg)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordGatewayDuration(i.driver, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("Push gateway call failed",
			zap.String("driver", i.driver),
			zap.Int("tokens", len(tokens)),
			zap.Duration("took", elapsed),
			zap.Error(err),
		)
		return err
	}

	metrics.RecordGatewayDuration(i.driver, "ok", elapsed)
	span.SetStatus(codes.Ok, "")
	if Unconfigured(i.next) {
		log.Warn("Push gateway not configured, skipping send", zap.Int("tokens", len(tokens)))
	} else {
		log.Info("Push gateway call succeeded",
			zap.String("driver", i.driver),
			zap.Int("tokens", len(tokens)),
			zap.Duration("took", elapsed),
		)
	}
	return nil
}

func (i *instrumented) Unconfigured() bool {
	return Unconfigured(i.next)
}
