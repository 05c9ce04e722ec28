package store

import "context"

// Ping checks DB reachability, used by the /healthz endpoint and the
// doctor package's database check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CountTasksByState returns the number of task rows in each state, used by
// the hand-rolled Prometheus exposition endpoint.
func (s *Store) CountTasksByState(ctx context.Context) (map[TaskStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[TaskStatus]int64)
	for rows.Next() {
		var state TaskStatus
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		out[state] = count
	}
	return out, rows.Err()
}
