package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/assetflow/internal/http/api"
)

// Task is the download of one group member. Its fields other than Asset are
// only meaningful once Done is closed.
type Task struct {
	Asset *api.AssetInfo

	startedAt  time.Time
	finishedAt time.Time
	result     *Result
	err        error
	done       chan struct{}
}

func (t *Task) finish() {
	t.finishedAt = time.Now()
	close(t.done)
}

// Done is closed when the task has settled, successfully or not.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Err() error {
	<-t.done

	return t.err
}

// Result blocks until the task settles.
func (t *Task) Result() (*Result, error) {
	<-t.done

	return t.result, t.err
}

func (t *Task) StartedAt() time.Time {
	return t.startedAt
}

// Duration is the time from task creation to settlement, or to now while the
// task is still running.
func (t *Task) Duration() time.Duration {
	select {
	case <-t.done:
		return t.finishedAt.Sub(t.startedAt)
	default:
		return time.Since(t.startedAt)
	}
}

// Session tracks the tasks of one group download. Failed tasks never cancel
// their siblings.
type Session struct {
	Name      string
	StartedAt time.Time

	tasks []*Task
	all   chan struct{}
}

func (s *Session) Tasks() []*Task {
	return s.tasks
}

// WhenAllComplete is closed once every task has settled.
func (s *Session) WhenAllComplete() <-chan struct{} {
	return s.all
}

// Wait blocks until every task has settled or ctx is done, and returns the
// joined task failures.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.all:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err joins the failures of settled tasks.
func (s *Session) Err() error {
	var errs []error

	for _, t := range s.tasks {
		select {
		case <-t.done:
			if t.err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.Asset.AssetName, t.err))
			}
		default:
		}
	}

	return errors.Join(errs...)
}
