package gateway

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gridops/ferryd/pkg/log"
	"github.com/gridops/ferryd/pkg/metrics"
	"github.com/gridops/ferryd/pkg/types"
)

// portBindAttempts is how many times a transfer is retried on a failed
// port bind before the outcome propagates.
const portBindAttempts = 5

// Adapter executes single storage primitives and returns structured
// results. It never panics and never raises: every outcome, including
// internal errors, becomes a types.Result.
type Adapter struct {
	gw        Gateway
	params    types.TransferParams
	verbosity string
	logger    zerolog.Logger
}

// NewAdapter creates an adapter over the given gateway. params are fixed
// for the daemon's lifetime.
func NewAdapter(gw Gateway, params types.TransferParams, verbosity string) *Adapter {
	return &Adapter{
		gw:        gw,
		params:    params,
		verbosity: verbosity,
		logger:    log.WithComponent("gateway"),
	}
}

// Transfer copies task.Source to task.Dest and reports the outcome.
func (a *Adapter) Transfer(task types.Task) (res types.Result) {
	res = types.Result{TaskID: task.ID}
	defer a.recoverInto(&res)

	buf := &bytes.Buffer{}
	ctx, err := a.newContext(buf, task.ID)
	if err != nil {
		res.ExitCode = -1
		res.Message = err.Error()
		return res
	}
	defer ctx.Close()

	// With overwrite forbidden, an existing destination short-circuits
	// the copy: some backends overwrite regardless, so the adapter must
	// not let the call reach them.
	if !a.params.Overwrite {
		start := time.Now()
		if _, err := ctx.Stat(task.Dest); err == nil {
			res.ExitCode = 0
			res.StartTime = start
			res.FinishTime = time.Now()
			res.Message = "Destination file already exists"
			res.Log = buf.String()
			return res
		}
	}

	params := CopyParams{
		CreateParents: a.params.CreateParents,
		Overwrite:     a.params.Overwrite,
		Checksum:      a.params.Checksum,
		Timeout:       a.params.Timeout,
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := ctx.Copy(task.Source, task.Dest, params)
		finish := time.Now()

		res.StartTime = start
		res.FinishTime = finish
		res.Log = buf.String()

		if err == nil {
			res.ExitCode = 0
			return res
		}

		switch code := CodeOf(err); code {
		case CodeExists:
			// The destination was produced by an earlier attempt or
			// another actor. The enqueueing manager is assumed to have
			// verified size and checksum before re-issuing the task.
			res.ExitCode = 0
			res.Message = "Destination file already exists"
			return res
		case CodeComm:
			if attempt < portBindAttempts {
				metrics.PortBindRetries.Inc()
				a.logger.Warn().
					Int64("task_id", task.ID).
					Int("attempt", attempt).
					Msg("Port bind failed, retrying transfer")
				continue
			}
			res.ExitCode = code
			res.Message = err.Error()
			return res
		default:
			res.ExitCode = code
			res.Message = err.Error()
			return res
		}
	}
}

// Delete unlinks task.File and reports the outcome.
func (a *Adapter) Delete(task types.Task) (res types.Result) {
	res = types.Result{TaskID: task.ID}
	defer a.recoverInto(&res)

	buf := &bytes.Buffer{}
	ctx, err := a.newContext(buf, task.ID)
	if err != nil {
		res.ExitCode = -1
		res.Message = err.Error()
		return res
	}
	defer ctx.Close()

	start := time.Now()
	uerr := ctx.Unlink(task.File)
	res.StartTime = start
	res.FinishTime = time.Now()
	res.Log = buf.String()

	if uerr == nil {
		res.ExitCode = 0
		return res
	}

	switch code := CodeOf(uerr); code {
	case CodeMissing, CodeComm:
		res.ExitCode = 0
		res.Message = "Target file does not exist"
	default:
		res.ExitCode = code
		res.Message = uerr.Error()
	}
	return res
}

func (a *Adapter) newContext(sink *bytes.Buffer, taskID int64) (Context, error) {
	ctx, err := a.gw.NewContext(ContextOptions{
		Verbosity: a.verbosity,
		LogSink:   sink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage context: %w", err)
	}
	a.logger.Debug().
		Int64("task_id", taskID).
		Str("invocation", uuid.New().String()).
		Msg("Storage context created")
	return ctx, nil
}

// recoverInto converts a panic from the storage layer into an internal
// failure result with exit code -1 and zero timestamps.
func (a *Adapter) recoverInto(res *types.Result) {
	if p := recover(); p != nil {
		*res = types.Result{
			TaskID:   res.TaskID,
			ExitCode: -1,
			Message:  fmt.Sprintf("internal error: %v", p),
		}
	}
}
