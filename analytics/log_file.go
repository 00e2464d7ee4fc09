package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	file     *os.File
	logger   *zap.Logger
}

var _ ExecutionDataCollector = new(LogFileDataCollector)

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		file:     logFile,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordStepSuccess(wfId string, executionId string, kind string, step int, output map[string]any) {
	lc.logger.Info("step_success", zap.String("workflowId", wfId), zap.String("executionId", executionId),
		zap.String("kind", kind), zap.Int("step", step), zap.Any("output", output))
}

func (lc *LogFileDataCollector) RecordStepFailure(wfId string, executionId string, kind string, step int, reason string) {
	lc.logger.Info("step_failure", zap.String("workflowId", wfId), zap.String("executionId", executionId),
		zap.String("kind", kind), zap.Int("step", step), zap.String("reason", reason))
}

func (lc *LogFileDataCollector) RecordExecutionFinished(wfId string, executionId string, status string, attempts int) {
	lc.logger.Info("execution_finished", zap.String("workflowId", wfId), zap.String("executionId", executionId),
		zap.String("status", status), zap.Int("attempts", attempts))
}

func (lc *LogFileDataCollector) Close() error {
	_ = lc.logger.Sync()
	return lc.file.Close()
}
