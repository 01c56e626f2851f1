package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hospital/booking/internal/platform/blobstore"
)

// finishedTTL is how long a finished task stays queryable.
const finishedTTL = time.Hour

// ExportQueue runs patient history exports in the background on behalf of
// the HTTP API. Tasks live in memory only; the finished CSV is stored in the
// export store under the task ID.
type ExportQueue struct {
	runner  *Runner
	timeout time.Duration

	mu    sync.Mutex
	tasks map[string]*blobstore.ExportTask
	wg    sync.WaitGroup
}

func NewExportQueue(r *Runner, timeout time.Duration) *ExportQueue {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ExportQueue{runner: r, timeout: timeout, tasks: make(map[string]*blobstore.ExportTask)}
}

// Enqueue registers a task for patientID and starts it.
func (q *ExportQueue) Enqueue(patientID int64) blobstore.ExportTask {
	now := time.Now().UTC()
	task := &blobstore.ExportTask{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Status:    blobstore.TaskQueued,
		CreatedAt: now,
	}

	q.mu.Lock()
	q.prune(now)
	q.tasks[task.ID] = task
	cp := *task
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(task.ID, patientID)
	return cp
}

// Task returns a copy of the task with the given id.
func (q *ExportQueue) Task(id string) (blobstore.ExportTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return blobstore.ExportTask{}, false
	}
	return *task, true
}

// Close waits for running exports.
func (q *ExportQueue) Close() {
	q.wg.Wait()
}

func (q *ExportQueue) run(id string, patientID int64) {
	defer q.wg.Done()
	q.update(id, func(t *blobstore.ExportTask) { t.Status = blobstore.TaskProcessing })

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	_, err := q.runner.exportHistory(ctx, patientID, id)
	finished := time.Now().UTC()
	if err != nil {
		q.runner.logger.Error().Err(err).Str("task_id", id).Int64("patient_id", patientID).Msg("history export failed")
		q.update(id, func(t *blobstore.ExportTask) {
			t.Status = blobstore.TaskFailed
			t.Error = "export could not be produced"
			t.FinishedAt = &finished
		})
		return
	}
	q.update(id, func(t *blobstore.ExportTask) {
		t.Status = blobstore.TaskCompleted
		t.FinishedAt = &finished
	})
}

func (q *ExportQueue) update(id string, fn func(*blobstore.ExportTask)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.tasks[id]; ok {
		fn(task)
	}
}

// prune drops finished tasks older than finishedTTL. Callers hold mu.
func (q *ExportQueue) prune(now time.Time) {
	for id, task := range q.tasks {
		if task.FinishedAt != nil && now.Sub(*task.FinishedAt) > finishedTTL {
			delete(q.tasks, id)
		}
	}
}
