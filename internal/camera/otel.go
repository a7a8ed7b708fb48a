package camera

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "multicam/internal/camera"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
