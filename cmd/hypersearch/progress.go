package main

import (
	"fmt"
	"io"

	"github.com/cheggaaa/pb/v3"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/tuner"
)

const progressTemplate pb.ProgressBarTemplate = `{{string . "trial"}} {{counters . }} {{bar . }} {{percent . }} {{string . "best"}}`

// progress draws one bar step per finished trial.
type progress struct {
	bar  *pb.ProgressBar
	best float64
	seen bool
}

func newProgress(w io.Writer, trials int) *progress {
	bar := progressTemplate.New(trials)
	bar.SetWriter(w)
	bar.Set("trial", "trial --")
	bar.Set("best", "")
	bar.Start()
	return &progress{bar: bar}
}

func (p *progress) TrialStarted(id string, _ int, _ hyper.Config) {
	p.bar.Set("trial", "trial "+id)
}

func (p *progress) TrialFinished(t tuner.Trial) {
	if t.Completed() && (!p.seen || t.Score > p.best) {
		p.best, p.seen = t.Score, true
		p.bar.Set("best", fmt.Sprintf("best %.4f (%s)", t.Score, t.ID))
	}
	p.bar.Increment()
}

func (p *progress) finish() {
	p.bar.Finish()
}

// observers fans tuner notifications out in order.
type observers []tuner.Observer

func (o observers) TrialStarted(id string, index int, cfg hyper.Config) {
	for _, obs := range o {
		obs.TrialStarted(id, index, cfg)
	}
}

func (o observers) TrialFinished(t tuner.Trial) {
	for _, obs := range o {
		obs.TrialFinished(t)
	}
}
