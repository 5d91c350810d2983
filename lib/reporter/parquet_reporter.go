package reporter

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
	"github.com/parquet-go/parquet-go"
)

// A TransformedRow is one row of a transformed matrix.
type TransformedRow struct {
	Partition string    `parquet:"partition,dict"`
	Row       int64     `parquet:"row"`
	Values    []float64 `parquet:"values"`
}

// A ComponentRow is one component of a fitted model.
type ComponentRow struct {
	Component     int     `parquet:"component"`
	SingularValue float64 `parquet:"singularValue"`
	// Missing when the model was fitted without transforming the training data.
	ExplainedVariance      float64   `parquet:"explainedVariance,optional"`
	ExplainedVarianceRatio float64   `parquet:"explainedVarianceRatio,optional"`
	Values                 []float64 `parquet:"values"`
}

type ParquetReporter struct {
	filenameBase       string
	maxRowsPerRowGroup int64

	jobName   string
	startTime string
	file      *os.File
	writer    *parquet.GenericWriter[TransformedRow]
	rowCount  int64
}

func NewParquetReporter(filenameBase string, maxRows int64) *ParquetReporter {
	return &ParquetReporter{
		filenameBase:       filenameBase,
		maxRowsPerRowGroup: maxRows,
	}
}

func (r *ParquetReporter) Initialize(jobName string, start time.Time) error {
	if r.writer != nil {
		if err := r.Flush(); err != nil {
			return err
		}
	}
	r.jobName = jobName
	r.startTime = start.UTC().Format("20060102150405")
	r.rowCount = 0
	log.Printf("initializing parquet reporter for job %s, start time %s\n", jobName, r.startTime)
	return nil
}

// TransformedPath is the file AddTransformed writes to for the current job.
func (r *ParquetReporter) TransformedPath() string {
	return filepath.Join(r.filenameBase, fileStem("transformed", r.jobName, r.startTime)+".pq")
}

func (r *ParquetReporter) ModelPath() string {
	return filepath.Join(r.filenameBase, fileStem("model", r.jobName, r.startTime)+".pq")
}

func (r *ParquetReporter) openWriter() error {
	if r.writer != nil {
		return nil
	}
	if r.startTime == "" {
		return fmt.Errorf("parquet reporter is not initialized")
	}
	file, err := os.OpenFile(r.TransformedPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	r.file = file
	r.writer = parquet.NewGenericWriter[TransformedRow](file, parquet.MaxRowsPerRowGroup(r.maxRowsPerRowGroup))
	return nil
}

func extractRows(out *datatypes.DistributedMatrix) []TransformedRow {
	ret := make([]TransformedRow, 0, out.Rows())
	for _, p := range out.Partitions {
		rows, _ := p.Rows.Dims()
		for i := 0; i < rows; i++ {
			ret = append(ret, TransformedRow{
				Partition: p.Key,
				Row:       int64(i),
				Values:    append([]float64(nil), p.Rows.RawRowView(i)...),
			})
		}
	}
	return ret
}

func (r *ParquetReporter) AddTransformed(out *datatypes.DistributedMatrix) error {
	if err := out.Check(); err != nil {
		return err
	}
	if err := r.openWriter(); err != nil {
		return err
	}
	n, err := r.writer.Write(extractRows(out))
	r.rowCount += int64(n)
	log.Printf("wrote %d transformed rows for job %s\n", n, r.jobName)
	return err
}

func (r *ParquetReporter) AddModel(snapshot *decomposition.Snapshot) error {
	if r.startTime == "" {
		return fmt.Errorf("parquet reporter is not initialized")
	}
	if snapshot == nil {
		return fmt.Errorf("no model to report")
	}
	rows := make([]ComponentRow, len(snapshot.Components))
	for i, component := range snapshot.Components {
		rows[i] = ComponentRow{Component: i, Values: component}
		if i < len(snapshot.SingularValues) {
			rows[i].SingularValue = snapshot.SingularValues[i]
		}
		if i < len(snapshot.ExplainedVariance) {
			rows[i].ExplainedVariance = snapshot.ExplainedVariance[i]
		}
		if i < len(snapshot.ExplainedVarianceRatio) {
			rows[i].ExplainedVarianceRatio = snapshot.ExplainedVarianceRatio[i]
		}
	}
	// Models are small, so they get their own file and no row group limit.
	return parquet.WriteFile(r.ModelPath(), rows)
}

func (r *ParquetReporter) Flush() error {
	if r.writer == nil {
		return nil
	}
	defer func() {
		r.file.Close()
		r.writer = nil
		r.file = nil
	}()
	if err := r.writer.Close(); err != nil {
		return err
	}
	log.Printf("flushed %d rows to %s\n", r.rowCount, r.TransformedPath())
	return nil
}
