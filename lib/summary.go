package lib

import (
	"encoding/csv"
	"os"
	"strconv"
)

type CellSummary struct {
	Name        string
	Polygons    int
	FlexPaths   int
	RobustPaths int
	References  int
	Labels      int
}

func Summarize(library *Library) []*CellSummary {
	summaries := make([]*CellSummary, 0, len(library.Cells))
	for _, cell := range library.Cells {
		summaries = append(summaries, &CellSummary{
			Name:        cell.Name,
			Polygons:    len(cell.Polygons),
			FlexPaths:   len(cell.FlexPaths),
			RobustPaths: len(cell.RobustPaths),
			References:  len(cell.References),
			Labels:      len(cell.Labels),
		})
	}
	return summaries
}

func WriteSummary(dst string, library *Library) error {
	fp, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer fp.Close()

	writer := csv.NewWriter(fp)
	writer.Write([]string{"Cell", "Polygons", "FlexPaths", "RobustPaths", "References", "Labels"})
	for _, summary := range Summarize(library) {
		writer.Write([]string{
			summary.Name,
			strconv.Itoa(summary.Polygons),
			strconv.Itoa(summary.FlexPaths),
			strconv.Itoa(summary.RobustPaths),
			strconv.Itoa(summary.References),
			strconv.Itoa(summary.Labels),
		})
	}

	writer.Flush()
	return writer.Error()
}
