// Package transformer stamps validated records with run provenance.
package transformer

import (
	"time"

	"github.com/telhawk-systems/telhawk-etl/etl/internal/models"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/runctx"
)

// Transform returns a copy of batch where every record carries runID and
// runTimestamp as pipeline_id and pipeline_timestamp. The input is not modified.
func Transform(batch models.Batch, runID string, runTimestamp time.Time) models.Batch {
	out := make(models.Batch, len(batch))
	for i, user := range batch {
		id := runID
		ts := runTimestamp
		user.PipelineID = &id
		user.PipelineTimestamp = &ts
		out[i] = user
	}
	return out
}

// ForRun stamps batch with the identity of rc.
func ForRun(batch models.Batch, rc runctx.RunContext) models.Batch {
	return Transform(batch, rc.ID(), rc.Timestamp())
}
