// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/n3/pkg/core/shapes"
	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CSVConfig configures a classification dataset loaded from a CSV file with a header.
type CSVConfig struct {
	Path string

	// Label is the name of the column with the class of each row. If the values are not all integers,
	// the classes are the sorted distinct values.
	Label string

	// Features are the names of the numeric columns used as inputs. If empty, all columns but Label are used.
	Features []string

	// ValidFraction and EvalFraction of the rows (the last ones) are held out for validation and evaluation.
	ValidFraction, EvalFraction float64

	BatchSize           int
	DropIncompleteBatch bool
	Shuffle             bool
	Seed                uint64

	// Normalize the features with the mean and standard deviation of the training rows.
	Normalize bool
}

// CSVData is the Split loaded by CSV, along with the description of its classes.
type CSVData struct {
	*Split

	// Classes names, indexed by the label value.
	Classes []string

	// Features names, in the order of the input last axis.
	Features []string
}

// CSV loads the file configured.
func CSV(config CSVConfig) (*CSVData, error) {
	f, err := os.Open(config.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening CSV dataset")
	}
	defer func() { _ = f.Close() }()
	data, err := ReadCSV(f, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading CSV dataset %q", config.Path)
	}
	return data, nil
}

// ReadCSV reads the CSV contents from r, see CSV.
func ReadCSV(r io.Reader, config CSVConfig) (*CSVData, error) {
	df := dataframe.ReadCSV(r)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "parsing CSV")
	}
	names := df.Names()
	if !slices.Contains(names, config.Label) {
		return nil, errors.Errorf("label column %q not found in %v", config.Label, names)
	}
	featureNames := config.Features
	if len(featureNames) == 0 {
		for _, name := range names {
			if name != config.Label {
				featureNames = append(featureNames, name)
			}
		}
	}
	if len(featureNames) == 0 {
		return nil, errors.New("no feature columns")
	}
	numRows := df.Nrow()
	if numRows == 0 {
		return nil, errors.New("no rows")
	}

	features := make([]float64, numRows*len(featureNames))
	for featureIdx, name := range featureNames {
		if !slices.Contains(names, name) {
			return nil, errors.Errorf("feature column %q not found in %v", name, names)
		}
		for row, value := range df.Col(name).Float() {
			features[row*len(featureNames)+featureIdx] = value
		}
	}
	labels, classes, err := parseLabels(df.Col(config.Label).Records())
	if err != nil {
		return nil, errors.WithMessagef(err, "label column %q", config.Label)
	}
	inputs := tensors.FromFlat(shapes.Make(dtypes.Float64, numRows, len(featureNames)), features)
	targets := tensors.FromFlat(shapes.Make(dtypes.Int64, numRows), labels)

	split, err := newSplit(inputs, targets, splitOptions{
		name:                "csv",
		validFraction:       config.ValidFraction,
		evalFraction:        config.EvalFraction,
		batchSize:           config.BatchSize,
		dropIncompleteBatch: config.DropIncompleteBatch,
		shuffle:             config.Shuffle,
		seed:                config.Seed,
	})
	if err != nil {
		return nil, err
	}
	if config.Normalize {
		if err = normalizeSplit(split); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("CSV dataset: %d rows, %d features, %d classes", numRows, len(featureNames), len(classes))
	return &CSVData{Split: split, Classes: classes, Features: featureNames}, nil
}

// parseLabels converts the label records to class indices. Integer labels are used as is.
func parseLabels(records []string) (labels []float64, classes []string, err error) {
	labels = make([]float64, len(records))
	allInts := true
	var maxLabel int
	for i, record := range records {
		value, err := strconv.Atoi(record)
		if err != nil || value < 0 {
			allInts = false
			break
		}
		labels[i] = float64(value)
		maxLabel = max(maxLabel, value)
	}
	if allInts {
		classes = make([]string, maxLabel+1)
		for i := range classes {
			classes[i] = strconv.Itoa(i)
		}
		return labels, classes, nil
	}

	classes = slices.Clone(records)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return nil, nil, errors.Errorf("found %d distinct classes, at least 2 are needed", len(classes))
	}
	for i, record := range records {
		idx, _ := slices.BinarySearch(classes, record)
		labels[i] = float64(idx)
	}
	return labels, classes, nil
}

// normalizeSplit normalizes the inputs of all datasets with the statistics of the train dataset.
func normalizeSplit(split *Split) error {
	if split.Train == nil {
		return errors.New("can't normalize without training data")
	}
	mean, stddev, err := Normalization(split.Train.Copy().BatchSize(split.Train.NumExamples(), false))
	if err != nil {
		return err
	}
	stddev = ReplaceZerosByOnes(stddev)
	for _, ds := range []*InMemoryDataset{split.Train, split.Valid, split.Eval} {
		if ds == nil {
			continue
		}
		if ds.inputs, err = Normalize(ds.inputs, mean, stddev); err != nil {
			return err
		}
	}
	return nil
}
