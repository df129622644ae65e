package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prithvirajz/Manim-Video-Generator/internal/executor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
)

// HistoryWriter persists run history asynchronously. It implements
// executor.Sink: notifications are buffered and written by a background
// goroutine so database latency never stalls the orchestration loop. When
// the buffer is full, entries are dropped with a warning.
type HistoryWriter struct {
	store Store
	ch    chan writeJob
	wg    sync.WaitGroup
	done  chan struct{}
}

type writeJob struct {
	attempt *AttemptRecord
	run     *RunRecord
	script  *ScriptRecord
	status  *statusUpdate
}

type statusUpdate struct {
	scriptID string
	status   string
}

// NewHistoryWriter creates a writer over the given store.
func NewHistoryWriter(store Store, bufferSize int) *HistoryWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &HistoryWriter{
		store: store,
		ch:    make(chan writeJob, bufferSize),
		done:  make(chan struct{}),
	}
}

// Start launches the background write loop.
func (w *HistoryWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// RecordAttempt implements executor.Sink.
func (w *HistoryWriter) RecordAttempt(runID string, attempt executor.Attempt) {
	w.enqueue(writeJob{attempt: &AttemptRecord{
		ID:          uuid.New().String(),
		RunID:       runID,
		Number:      attempt.Number,
		Outcome:     attempt.Outcome,
		Class:       attempt.Class,
		Hint:        attempt.Hint,
		Error:       attempt.Error,
		StartedAt:   attempt.StartedAt,
		CompletedAt: attempt.CompletedAt,
	}})
}

// RecordScriptStatus implements executor.Sink. Intermediate lifecycle
// transitions are applied as status updates; the terminal state is also
// captured by the full script row written with the run.
func (w *HistoryWriter) RecordScriptStatus(scriptID string, status script.Status) {
	w.enqueue(writeJob{status: &statusUpdate{scriptID: scriptID, status: string(status)}})
}

// RecordRun implements executor.Sink. The script's final content and status
// are persisted alongside the run so debugged fixes survive the process.
func (w *HistoryWriter) RecordRun(run *executor.Run) {
	completed := run.CompletedAt
	w.enqueue(writeJob{
		run: &RunRecord{
			ID:           run.ID,
			ScriptID:     run.Script.ID,
			Container:    run.Target.Name,
			Outcome:      run.FinalOutcome,
			AttemptsUsed: len(run.Attempts),
			OutputPath:   run.OutputPath,
			LastError:    run.LastError(),
			StartedAt:    run.StartedAt,
			CompletedAt:  &completed,
		},
		script: &ScriptRecord{
			ID:         run.Script.ID,
			Content:    run.Script.Content,
			SceneClass: run.Script.SceneClass,
			Status:     string(run.Script.Status),
			CreatedAt:  run.StartedAt,
			UpdatedAt:  completed,
		},
	})
}

func (w *HistoryWriter) enqueue(job writeJob) {
	select {
	case w.ch <- job:
	default:
		log.Warn().Msg("history buffer full, dropping record")
	}
}

// Flush stops the writer, draining buffered entries up to the timeout.
func (w *HistoryWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("history writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("history writer flush timed out")
	}
}

func (w *HistoryWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case job := <-w.ch:
			w.writeWithRetry(job)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case job := <-w.ch:
					w.writeWithRetry(job)
				default:
					return
				}
			}
		}
	}
}

func (w *HistoryWriter) writeWithRetry(job writeJob) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.write(ctx, job)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("history write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Msg("history write failed permanently after retries")
		}
	}
}

func (w *HistoryWriter) write(ctx context.Context, job writeJob) error {
	if job.attempt != nil {
		if err := w.store.SaveAttempt(ctx, job.attempt); err != nil {
			return err
		}
	}
	if job.script != nil {
		if err := w.store.SaveScript(ctx, job.script); err != nil {
			return err
		}
	}
	if job.run != nil {
		if err := w.store.SaveRun(ctx, job.run); err != nil {
			return err
		}
	}
	if job.status != nil {
		if err := w.store.SetScriptStatus(ctx, job.status.scriptID, job.status.status); err != nil {
			return err
		}
	}
	return nil
}
