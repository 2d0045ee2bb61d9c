package tuner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/models"
	"github.com/HatiCode/oceanquake/pkg/preprocess"
	"github.com/HatiCode/oceanquake/pkg/storage"
	"github.com/HatiCode/oceanquake/pkg/tensor"
)

// smallSpace keeps built networks tiny.
func smallSpace() hyper.Space {
	return hyper.Space{
		Filters:        []int{2, 4},
		KernelSizes:    []int{2, 3},
		Activations:    []hyper.Activation{hyper.ReLU, hyper.Tanh},
		MinExtraLayers: 1,
		MaxExtraLayers: 2,
		DropoutMin:     0,
		DropoutMax:     0.5,
		DropoutStep:    0.1,
		Optimizers:     []hyper.Optimizer{hyper.Adam, hyper.RMSprop},
	}
}

func makeSplit(t *testing.T, shape tensor.Shape, seed uint64) *preprocess.Split {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 17))
	x := tensor.New(shape)
	y := make([]float64, shape.N)
	for n := range shape.N {
		y[n] = float64(n % 2)
		s := x.Sample(n)
		for i := range s {
			s[i] = rng.Float64() + 0.3*y[n]
		}
	}
	split, _, err := preprocess.Prepare(x, y, preprocess.Options{TestFraction: 0.2, Seed: seed})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	return split
}

// fakeRunner scores a config without training. Trials listed in fail return
// the mapped error; the network is built so checkpoints can be exercised.
type fakeRunner struct {
	fail  map[int]error
	score func(hyper.Config, int) float64
	calls []TrialSpec
}

func (r *fakeRunner) Run(_ context.Context, spec TrialSpec) (TrialOutcome, error) {
	r.calls = append(r.calls, spec)
	if err, ok := r.fail[spec.Index]; ok {
		return TrialOutcome{}, err
	}
	net, err := models.Build(spec.Config, spec.Data.TrainX.Shape().Sample(), spec.Seed)
	if err != nil {
		return TrialOutcome{}, err
	}
	score := float64(spec.Config.Layers[0].Filters) / 4
	if r.score != nil {
		score = r.score(spec.Config, spec.Index)
	}
	return TrialOutcome{Score: score, BestEpoch: 1, Network: net}, nil
}

type countingObserver struct {
	started  []string
	finished []Trial
	onFinish func(Trial)
}

func (o *countingObserver) TrialStarted(id string, _ int, _ hyper.Config) {
	o.started = append(o.started, id)
}

func (o *countingObserver) TrialFinished(t Trial) {
	o.finished = append(o.finished, t)
	if o.onFinish != nil {
		o.onFinish(t)
	}
}

func TestSearch_LedgerAndBest(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 20, T: 2, H: 8, W: 8, C: 2}, 1)
	store := storage.NewMemoryStore()
	runner := &fakeRunner{
		fail: map[int]error{
			3: fmt.Errorf("fit: %w", models.ErrTrainingFailure),
			5: fmt.Errorf("build: %w", models.ErrConfigurationInvalid),
		},
		score: func(c hyper.Config, i int) float64 { return float64(i%4) / 4 },
	}
	obs := &countingObserver{}

	tu, err := New(smallSpace(), store, runner, obs, Options{MaxTrials: 8, Seed: 42, Project: "ledger"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := tu.Search(context.Background(), data)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(res.Trials) != 8 {
		t.Fatalf("ledger length = %d, want 8", len(res.Trials))
	}
	if res.Completed != 6 || res.Failed != 2 {
		t.Errorf("completed/failed = %d/%d, want 6/2", res.Completed, res.Failed)
	}
	if res.StopReason != StopBudget {
		t.Errorf("StopReason = %s, want budget", res.StopReason)
	}
	if len(obs.started) != 8 || len(obs.finished) != 8 {
		t.Errorf("observer saw %d starts and %d finishes, want 8", len(obs.started), len(obs.finished))
	}

	for i, tr := range res.Trials {
		if want := fmt.Sprintf("%02d", i); tr.ID != want {
			t.Errorf("trial %d ID = %q, want %q", i, tr.ID, want)
		}
		if tr.Seed != 42+uint64(i) {
			t.Errorf("trial %d seed = %d, want %d", i, tr.Seed, 42+i)
		}
	}
	if tr := res.Trials[3]; tr.Status != StatusFailed || tr.Reason != ReasonTrainingFailure {
		t.Errorf("trial 3 = %s/%s, want failed/training_failure", tr.Status, tr.Reason)
	}
	if tr := res.Trials[5]; tr.Status != StatusFailed || tr.Reason != ReasonConfigurationInvalid {
		t.Errorf("trial 5 = %s/%s, want failed/configuration_invalid", tr.Status, tr.Reason)
	}

	// scores by index: 0, .25, .5, fail, 0, fail, .5, .75; index 7 is best
	if res.Best == nil || res.Best.Index != 7 || res.Best.Score != 0.75 {
		t.Fatalf("Best = %+v, want trial 7 with 0.75", res.Best)
	}
	for _, tr := range res.Trials {
		if tr.Completed() && tr.Score > res.Best.Score {
			t.Errorf("trial %s scores %v above best %v", tr.ID, tr.Score, res.Best.Score)
		}
	}
	if res.Model == nil {
		t.Fatal("Model is nil, want network rebuilt from checkpoint")
	}
	if got := res.Model.Config().Key(); got != res.Best.Config.Key() {
		t.Errorf("rebuilt model config = %s, want %s", got, res.Best.Config.Key())
	}

	stored, err := store.ListTrials(context.Background(), "ledger")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 8 {
		t.Fatalf("store holds %d trials, want 8", len(stored))
	}
	if stored[3].Score != nil || stored[3].Reason != string(ReasonTrainingFailure) {
		t.Errorf("stored failed trial = %+v", stored[3])
	}
	if stored[7].Score == nil || *stored[7].Score != 0.75 {
		t.Errorf("stored best trial score = %v", stored[7].Score)
	}
}

func TestSearch_BestTieGoesToEarliest(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 2)
	runner := &fakeRunner{score: func(hyper.Config, int) float64 { return 0.5 }}
	tu, _ := New(smallSpace(), storage.NewMemoryStore(), runner, nil, Options{MaxTrials: 4}, nil)

	res, err := tu.Search(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Best.Index != 0 {
		t.Errorf("Best.Index = %d, want 0 on ties", res.Best.Index)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 3)
	run := func() []string {
		runner := &fakeRunner{score: func(c hyper.Config, _ int) float64 {
			return c.DropoutRate + float64(c.ExtraLayers())/10
		}}
		tu, _ := New(smallSpace(), storage.NewMemoryStore(), runner, nil, Options{MaxTrials: 6, Seed: 9, Candidates: 50}, nil)
		res, err := tu.Search(context.Background(), data)
		if err != nil {
			t.Fatal(err)
		}
		keys := make([]string, len(res.Trials))
		for i, tr := range res.Trials {
			keys[i] = tr.Config.Key()
		}
		return keys
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("trial %d config differs between identical seeds: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestSearch_GuidedAfterInitialPoints(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 4)
	tu, _ := New(smallSpace(), storage.NewMemoryStore(), &fakeRunner{}, nil,
		Options{MaxTrials: 5, InitialPoints: 3, Candidates: 50}, nil)

	res, err := tu.Search(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	for i, tr := range res.Trials {
		if want := i >= 3; tr.Guided != want {
			t.Errorf("trial %d Guided = %v, want %v", i, tr.Guided, want)
		}
	}
}

func TestSearch_AllFailed(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 5)
	fail := map[int]error{}
	for i := range 3 {
		fail[i] = models.ErrTrainingFailure
	}
	tu, _ := New(smallSpace(), storage.NewMemoryStore(), &fakeRunner{fail: fail}, nil, Options{MaxTrials: 3}, nil)

	res, err := tu.Search(context.Background(), data)
	if !errors.Is(err, ErrNoCompletedTrials) {
		t.Fatalf("Search() error = %v, want ErrNoCompletedTrials", err)
	}
	if res.Best != nil || res.Model != nil {
		t.Error("Best and Model should be nil when every trial failed")
	}
	if len(res.Trials) != 3 || res.Failed != 3 {
		t.Errorf("ledger = %d trials, %d failed, want 3/3", len(res.Trials), res.Failed)
	}
}

func TestSearch_CancelReturnsPartial(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &countingObserver{onFinish: func(tr Trial) {
		if tr.Index == 1 {
			cancel()
		}
	}}
	tu, _ := New(smallSpace(), storage.NewMemoryStore(), &fakeRunner{}, obs, Options{MaxTrials: 10}, nil)

	res, err := tu.Search(ctx, data)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Search() error = %v, want context.Canceled", err)
	}
	if len(res.Trials) != 2 {
		t.Errorf("partial ledger length = %d, want 2", len(res.Trials))
	}
	if res.StopReason != StopCancelled {
		t.Errorf("StopReason = %s, want cancelled", res.StopReason)
	}
	if res.Best == nil || res.Model == nil {
		t.Error("partial result should still carry the best trial and its model")
	}
}

func TestSearch_Cutoffs(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 7)
	constant := func(hyper.Config, int) float64 { return 0.5 }

	tests := []struct {
		name       string
		opts       Options
		wantTrials int
		wantReason StopReason
		wantErr    error
	}{
		{name: "plateau", opts: Options{MaxTrials: 10, Patience: 2}, wantTrials: 3, wantReason: StopPlateau},
		{name: "deadline", opts: Options{MaxTrials: 10, MaxDuration: time.Nanosecond}, wantTrials: 0,
			wantReason: StopDeadline, wantErr: ErrNoCompletedTrials},
		{name: "budget", opts: Options{MaxTrials: 4}, wantTrials: 4, wantReason: StopBudget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tu, _ := New(smallSpace(), storage.NewMemoryStore(), &fakeRunner{score: constant}, nil, tt.opts, nil)
			res, err := tu.Search(context.Background(), data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Search() error = %v, want %v", err, tt.wantErr)
			}
			if len(res.Trials) != tt.wantTrials {
				t.Errorf("trials = %d, want %d", len(res.Trials), tt.wantTrials)
			}
			if res.StopReason != tt.wantReason {
				t.Errorf("StopReason = %s, want %s", res.StopReason, tt.wantReason)
			}
		})
	}
}

func TestSearch_FatalRunnerError(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 8)
	boom := errors.New("disk on fire")
	tu, _ := New(smallSpace(), storage.NewMemoryStore(), &fakeRunner{fail: map[int]error{1: boom}}, nil, Options{MaxTrials: 5}, nil)

	res, err := tu.Search(context.Background(), data)
	if !errors.Is(err, boom) {
		t.Fatalf("Search() error = %v, want %v", err, boom)
	}
	if res.StopReason != StopError || len(res.Trials) != 1 {
		t.Errorf("result = %s with %d trials, want error with 1", res.StopReason, len(res.Trials))
	}
}

type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) PutTrial(context.Context, storage.TrialRecord) error {
	return errors.New("store unavailable")
}

func TestSearch_StoreFailureIsFatal(t *testing.T) {
	data := makeSplit(t, tensor.Shape{N: 10, T: 1, H: 7, W: 7, C: 1}, 9)
	tu, _ := New(smallSpace(), failingStore{storage.NewMemoryStore()}, &fakeRunner{}, nil, Options{MaxTrials: 3}, nil)

	res, err := tu.Search(context.Background(), data)
	if err == nil {
		t.Fatal("expected store error, got nil")
	}
	if res.StopReason != StopError {
		t.Errorf("StopReason = %s, want error", res.StopReason)
	}
}

func TestNew_Validation(t *testing.T) {
	store := storage.NewMemoryStore()
	bad := smallSpace()
	bad.Filters = nil
	if _, err := New(bad, store, nil, nil, Options{}, nil); err == nil {
		t.Error("expected error for invalid space")
	}
	if _, err := New(smallSpace(), store, nil, nil, Options{MaxTrials: -1}, nil); err == nil {
		t.Error("expected error for negative trial budget")
	}

	tu, err := New(smallSpace(), store, nil, nil, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := tu.Options()
	if opts.MaxTrials != 20 || opts.InitialPoints != 2 || opts.Epochs != 50 || opts.BatchSize != 32 {
		t.Errorf("defaults = %+v", opts)
	}
	if tu.Session() == "" {
		t.Error("Session() is empty, want generated id")
	}

	defer func() {
		if recover() == nil {
			t.Error("New(nil store) did not panic")
		}
	}()
	New(smallSpace(), nil, nil, nil, Options{}, nil)
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{MaxTrials: 7}.WithDefaults()
	if opts.MaxTrials != 7 || opts.Epochs != DefaultEpochs {
		t.Errorf("WithDefaults() = %+v", opts)
	}
	if opts.Project == "" {
		t.Fatal("WithDefaults() left Project empty")
	}
	if again := opts.WithDefaults(); again.Project != opts.Project {
		t.Errorf("second WithDefaults() renamed the session: %q -> %q", opts.Project, again.Project)
	}

	tu, err := New(smallSpace(), storage.NewMemoryStore(), nil, nil, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tu.Session() != opts.Project {
		t.Errorf("Session() = %q, want %q", tu.Session(), opts.Project)
	}
}

func TestTrialID(t *testing.T) {
	tests := []struct {
		index, max int
		want       string
	}{
		{3, 5, "03"},
		{12, 20, "12"},
		{7, 200, "007"},
		{0, 1, "00"},
	}
	for _, tt := range tests {
		if got := trialID(tt.index, tt.max); got != tt.want {
			t.Errorf("trialID(%d, %d) = %q, want %q", tt.index, tt.max, got, tt.want)
		}
	}
}

// TestSearch_EndToEnd trains real networks on a (100, 5, 10, 10, 3) tensor
// with a budget of 5 trials and 2 random initial points.
func TestSearch_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("trains real networks")
	}

	data := makeSplit(t, tensor.Shape{N: 100, T: 5, H: 10, W: 10, C: 3}, 42)
	if got := data.TrainX.Shape(); got != (tensor.Shape{N: 80, T: 5, H: 10, W: 10, C: 3}) {
		t.Fatalf("train shape = %v", got)
	}
	if got := data.TestX.Shape(); got != (tensor.Shape{N: 20, T: 5, H: 10, W: 10, C: 3}) {
		t.Fatalf("test shape = %v", got)
	}

	space := smallSpace()
	space.MaxExtraLayers = 1
	store := storage.NewMemoryStore()
	tu, err := New(space, store, nil, nil, Options{
		MaxTrials:     5,
		InitialPoints: 2,
		Seed:          42,
		Epochs:        2,
		BatchSize:     16,
		Candidates:    50,
		Project:       "e2e",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := tu.Search(context.Background(), data)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Trials) != 5 {
		t.Fatalf("ledger length = %d, want 5", len(res.Trials))
	}
	for _, tr := range res.Trials {
		if !tr.Completed() {
			continue
		}
		if tr.Score < 0 || tr.Score > 1 || math.IsNaN(tr.Score) {
			t.Errorf("trial %s score %v outside [0, 1]", tr.ID, tr.Score)
		}
		if len(tr.History.Epochs) != 2 {
			t.Errorf("trial %s ran %d epochs, want 2", tr.ID, len(tr.History.Epochs))
		}
	}

	if res.Best == nil || res.Model == nil {
		t.Fatal("expected a best trial and its model")
	}
	_, acc, err := res.Model.Evaluate(data.TestX, data.TestY)
	if err != nil {
		t.Fatal(err)
	}
	if acc != res.Best.Score {
		t.Errorf("rebuilt model accuracy = %v, want best score %v", acc, res.Best.Score)
	}
}
