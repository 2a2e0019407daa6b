// Package device gates shell commands headed for a user's device and
// feeds command output back into predictive analysis.
package device

import (
	"context"
	"errors"
	"log/slog"

	"github.com/linkingchat/linkingchat/internal/guard"
	"github.com/linkingchat/linkingchat/internal/predictive"
	"github.com/linkingchat/linkingchat/internal/store"
)

// ErrDangerousCommand is returned when the blacklist refuses a command
// outright. Warning-level commands still dispatch; the user approved
// them upstream.
var ErrDangerousCommand = errors.New("command refused: matches dangerous pattern")

// Analyzer is the predictive surface the dispatcher needs.
type Analyzer interface {
	AnalyzeTrigger(ctx context.Context, params predictive.AnalyzeParams)
}

// Dispatcher queues commands for devices after a safety check.
type Dispatcher struct {
	store    *store.Store
	analyzer Analyzer
}

// NewDispatcher creates a dispatcher. A nil analyzer disables the
// error-ingestion path.
func NewDispatcher(st *store.Store, analyzer Analyzer) *Dispatcher {
	return &Dispatcher{store: st, analyzer: analyzer}
}

// Dispatch validates and queues a command for the device. The same
// blacklist that flags suggested actions also refuses dispatch, so a
// command marked dangerous can never run.
func (d *Dispatcher) Dispatch(userID, deviceID, command string) (*store.DeviceCommand, error) {
	if guard.IsDangerous(command) {
		slog.Warn("Command refused", "user", userID, "device", deviceID)
		return nil, ErrDangerousCommand
	}
	cmd := &store.DeviceCommand{UserID: userID, DeviceID: deviceID, Command: command}
	if err := d.store.CreateDeviceCommand(cmd); err != nil {
		return nil, err
	}
	slog.Info("Command queued", "command", cmd.ID, "device", deviceID)
	return cmd, nil
}

// ReportResult records a command's outcome and, when the output looks
// like a recognizable failure, hands it to predictive analysis.
func (d *Dispatcher) ReportResult(ctx context.Context, userID, converseID, commandID, output string, exitCode int) error {
	if err := d.store.CompleteDeviceCommand(commandID, output, exitCode); err != nil {
		return err
	}
	if d.analyzer == nil {
		return nil
	}
	category := predictive.DetectTrigger(output)
	if category == "" {
		return nil
	}
	slog.Info("Command output triggered analysis", "command", commandID, "category", category)
	d.analyzer.AnalyzeTrigger(ctx, predictive.AnalyzeParams{
		UserID:          userID,
		ConverseID:      converseID,
		TriggerOutput:   output,
		TriggerCategory: category,
	})
	return nil
}
