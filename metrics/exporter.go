package metrics

import (
	"time"

	"github.com/mlodash/autoflow/logger"
	"go.opencensus.io/stats/view"
	"go.uber.org/zap"
)

// LogExporter writes every reported view row as a structured log line.
type LogExporter struct{}

var _ view.Exporter = new(LogExporter)

func (e *LogExporter) ExportView(vd *view.Data) {
	for _, row := range vd.Rows {
		fields := []zap.Field{zap.String("view", vd.View.Name)}
		for _, t := range row.Tags {
			fields = append(fields, zap.String(t.Key.Name(), t.Value))
		}
		switch data := row.Data.(type) {
		case *view.CountData:
			fields = append(fields, zap.Int64("count", data.Value))
		case *view.DistributionData:
			fields = append(fields, zap.Int64("count", data.Count), zap.Float64("mean", data.Mean),
				zap.Float64("min", data.Min), zap.Float64("max", data.Max))
		case *view.SumData:
			fields = append(fields, zap.Float64("sum", data.Value))
		case *view.LastValueData:
			fields = append(fields, zap.Float64("value", data.Value))
		}
		logger.Info("metrics", fields...)
	}
}

// StartLogExporter registers the views and a LogExporter reporting every
// period. The returned func unregisters the exporter.
func StartLogExporter(period time.Duration) (func() error, error) {
	if err := Register(); err != nil {
		return nil, err
	}
	exporter := &LogExporter{}
	view.RegisterExporter(exporter)
	if period > 0 {
		view.SetReportingPeriod(period)
	}
	return func() error {
		view.UnregisterExporter(exporter)
		return nil
	}, nil
}
