package reporter

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
)

type CsvReporter struct {
	filenameBase string
	jobName      string
	startTime    string
}

func NewCsvReporter(filenameBase string) *CsvReporter {
	return &CsvReporter{filenameBase: filenameBase}
}

func (c *CsvReporter) Initialize(jobName string, start time.Time) error {
	c.jobName = jobName
	c.startTime = start.UTC().Format("20060102150405")
	log.Printf("initializing csv reporter for job %s, start time %s (%s)\n",
		jobName, c.startTime, start.UTC().String())
	return nil
}

func (c *CsvReporter) path(kind string) (string, error) {
	if c.startTime == "" {
		return "", fmt.Errorf("csv reporter is not initialized")
	}
	return filepath.Join(c.filenameBase, fileStem(kind, c.jobName, c.startTime)+".csv"), nil
}

func formatFloats(values []float64) []string {
	ret := make([]string, len(values))
	for i, v := range values {
		ret[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return ret
}

// AddTransformed appends one record per row: partition key, row within the partition, values.
func (c *CsvReporter) AddTransformed(out *datatypes.DistributedMatrix) error {
	if err := out.Check(); err != nil {
		return err
	}
	resultsPath, err := c.path("transformed")
	if err != nil {
		return err
	}
	file, err := os.OpenFile(resultsPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0640)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	ctr := 0
	for _, p := range out.Partitions {
		rows, _ := p.Rows.Dims()
		for i := 0; i < rows; i++ {
			record := append([]string{p.Key, strconv.Itoa(i)}, formatFloats(p.Rows.RawRowView(i))...)
			if err = writer.Write(record); err != nil {
				return err
			}
			ctr++
			if ctr%1000 == 0 {
				writer.Flush()
				if err = writer.Error(); err != nil {
					return err
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// AddModel writes the model summary: one record per component with its
// singular value, explained variance, ratio and the component itself.
func (c *CsvReporter) AddModel(snapshot *decomposition.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("no model to report")
	}
	modelPath, err := c.path("model")
	if err != nil {
		return err
	}
	file, err := os.OpenFile(modelPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err = writer.Write([]string{"component", "singular_value", "explained_variance", "explained_variance_ratio", "values..."}); err != nil {
		return err
	}
	at := func(s []float64, i int) string {
		if i < len(s) {
			return strconv.FormatFloat(s[i], 'g', -1, 64)
		}
		return ""
	}
	for i, component := range snapshot.Components {
		record := []string{strconv.Itoa(i), at(snapshot.SingularValues, i),
			at(snapshot.ExplainedVariance, i), at(snapshot.ExplainedVarianceRatio, i)}
		if err = writer.Write(append(record, formatFloats(component)...)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (c *CsvReporter) Flush() error {
	// This reporter does no internal buffering, so Flush is a noop.
	return nil
}
