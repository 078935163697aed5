package server

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Printer sends a saved photo to a printer and returns a job ID.
type Printer interface {
	Print(ctx context.Context, path string) (string, error)
}

// LogPrinter is a stand-in printer that checks the file and logs the job.
type LogPrinter struct {
	Logger *zap.Logger
}

var _ Printer = (*LogPrinter)(nil)

// Print logs a print job for the file at path.
func (p *LogPrinter) Print(ctx context.Context, path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("photo to print: %w", err)
	}
	job := uuid.NewString()
	if p.Logger != nil {
		p.Logger.Info("print job", zap.String("job", job), zap.String("file", path), zap.Int64("size", fi.Size()))
	}
	return job, nil
}
