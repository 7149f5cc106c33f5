// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/n3/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressBar displays the progress of the training on the terminal, along with a table of the running
// metrics of the current epoch. It implements epochs.Progress.
type ProgressBar struct {
	trainer  *train.Trainer
	out      io.Writer
	numSteps int
	bar      *progressbar.ProgressBar

	// Rows of the stats table from the last training iteration, built in the training goroutine.
	lastMetrics [][2]string

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the name of the hook registered by AttachProgressBar.
const ProgressBarName = "n3.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

type progressBarUpdate struct {
	amount int
	rows   [][2]string
}

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// AttachProgressBar creates a commandline progress bar and sets it as the progress reporter of the trainer,
// so that every time the trainer is run, it will display a progress bar with progression and metrics.
//
// It does nothing (and returns nil) for non-root processes of a distributed training.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(trainer *train.Trainer, extraMetrics ...ExtraMetricFn) *ProgressBar {
	if !trainer.Config().Env.IsRoot {
		return nil
	}
	return attachProgressBar(trainer, os.Stdout, extraMetrics...)
}

func attachProgressBar(trainer *train.Trainer, out io.Writer, extraMetrics ...ExtraMetricFn) *ProgressBar {
	pBar := NewProgressBar(trainer, out, extraMetrics...)
	trainer.Config().Progress = pBar
	trainer.OnIterEnd(ProgressBarName, 0, pBar.onIterEnd)
	return pBar
}

// NewProgressBar creates a ProgressBar writing to out. Use AttachProgressBar to connect it to the trainer.
func NewProgressBar(trainer *train.Trainer, out io.Writer, extraMetrics ...ExtraMetricFn) *ProgressBar {
	return &ProgressBar{
		trainer:        trainer,
		out:            out,
		extraMetricFns: extraMetrics,
	}
}

func (pBar *ProgressBar) onIterEnd(trainer *train.Trainer, step *train.Step) error {
	averages := step.Metrics.Averages(step.Iteration + 1)
	pBar.lastMetrics = pBar.lastMetrics[:0]
	for _, name := range step.Metrics.Names() {
		pBar.lastMetrics = append(pBar.lastMetrics, [2]string{name, fmt.Sprintf("%.4g", averages[name])})
	}
	return nil
}

// Start implements epochs.Progress.
func (pBar *ProgressBar) Start(total int) {
	pBar.numSteps = total
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar.out),
	)
	pBar.isFirstOutput = true
	pBar.termenv = termenv.NewOutput(pBar.out)
	pBar.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so things are not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates()
}

// Advance implements epochs.Progress.
func (pBar *ProgressBar) Advance() {
	if pBar.updates == nil {
		return
	}
	rows := make([][2]string, 0, len(pBar.lastMetrics)+3)
	rows = append(rows,
		[2]string{"Epoch", humanize.Comma(int64(pBar.trainer.Epoch()))},
		[2]string{"Steps", fmt.Sprintf("%s of %s",
			humanize.Comma(int64(pBar.trainer.NumSteps()+1)), humanize.Comma(int64(pBar.numSteps)))},
		[2]string{"Median train step duration", FormatDuration(pBar.trainer.MedianStepDuration())})
	rows = append(rows, pBar.lastMetrics...)
	for _, extraMetric := range pBar.extraMetricFns {
		name, value := extraMetric()
		rows = append(rows, [2]string{name, value})
	}
	pBar.updates <- progressBarUpdate{amount: 1, rows: rows}
}

// Done implements epochs.Progress.
func (pBar *ProgressBar) Done() {
	if pBar.updates == nil {
		return
	}
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	pBar.updates = nil
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
}

// drawUpdates asynchronously: training may be faster than the terminal, in particular
// if running on cloud, with a relatively slow network connection.
func (pBar *ProgressBar) drawUpdates() {
	defer pBar.asyncUpdatesDone.Done()
	numLines := 0
	for update := range pBar.updates {
		// Exhaust the updates in the buffer:
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			pBar.statsTable.Row(row[0], row[1])
		}

		// Clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(numLines)
		}
		pBar.isFirstOutput = false
		numLines = len(update.rows) + 2 + 2

		_, _ = fmt.Fprintln(pBar.out, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(pBar.out)
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}
