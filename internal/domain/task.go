package domain

import "time"

// TaskDefinition is a persisted cron task record. Definitions with a
// queue name fire through the scanner push phase; definitions without
// one get a live cron trigger in the dynamic scheduler.
type TaskDefinition struct {
	ID           int64      `db:"id"`
	Name         string     `db:"name"`
	Label        string     `db:"label"`
	CronExpr     string     `db:"cron_expr"`
	Enabled      bool       `db:"enabled"`
	HandlerRef   string     `db:"handler_ref"`
	FireParams   string     `db:"fire_params"` // JSON blob passed to the handler
	QueueName    *string    `db:"queue_name"`  // nil means direct cron fires
	Priority     int        `db:"priority"`    // priority of pushed pending entries
	NextFireTime *time.Time `db:"next_fire_time"` // push-phase claim token
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Queued reports whether the definition fires through a queue.
func (t *TaskDefinition) Queued() bool {
	return t.QueueName != nil && *t.QueueName != ""
}

// Queue is a named admission bucket. Capacity bounds the number of
// concurrently RUNNING jobs the pop phase will admit for the queue.
type Queue struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Capacity  int       `db:"capacity"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}
