package featurestore

import (
	"math"
	"time"
)

// JoinPointInTime picks, for every entity, the row of one group with the
// greatest timestamp <= the entity timestamp (and >= entity timestamp - ttl
// when ttl > 0). Rows with equal timestamps resolve to the one seen last.
// The result holds one column per name, aligned with entities.Rows; entities
// without a matching row, or rows lacking a name, get NaN.
func JoinPointInTime(entities EntityFrame, names []string, rows []Row, ttl time.Duration) [][]float64 {
	byKey := make(map[int64][]int, len(rows))
	for i := range rows {
		byKey[rows[i].Key] = append(byKey[rows[i].Key], i)
	}

	cols := make([][]float64, len(names))
	for j := range cols {
		cols[j] = make([]float64, len(entities.Rows))
	}

	for i, e := range entities.Rows {
		best := -1
		for _, ri := range byKey[e.ID] {
			r := &rows[ri]
			if r.Timestamp.After(e.Timestamp) {
				continue
			}
			if ttl > 0 && r.Timestamp.Before(e.Timestamp.Add(-ttl)) {
				continue
			}
			if best < 0 || !r.Timestamp.Before(rows[best].Timestamp) {
				best = ri
			}
		}
		for j, name := range names {
			v := math.NaN()
			if best >= 0 {
				if got, ok := rows[best].Values[name]; ok {
					v = got
				}
			}
			cols[j][i] = v
		}
	}
	return cols
}
