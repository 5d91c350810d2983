// Package reporter writes fit results to disk.
package reporter

import (
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
)

type Reporter interface {
	// Initialize starts a new job. File names are derived from the job name and start time.
	Initialize(jobName string, start time.Time) error

	// AddTransformed records the rows of a transformed distributed matrix.
	AddTransformed(out *datatypes.DistributedMatrix) error

	// AddModel records a fitted model.
	AddModel(snapshot *decomposition.Snapshot) error

	Flush() error
}

func fileStem(kind string, jobName string, startTime string) string {
	return kind + "_" + jobName + "_" + startTime
}
