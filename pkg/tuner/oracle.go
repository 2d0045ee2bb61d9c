package tuner

import (
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/HatiCode/oceanquake/pkg/hyper"
)

// maxRandomAttempts bounds the search for an untried random config before a
// duplicate is accepted.
const maxRandomAttempts = 100

// oracle proposes configurations. The first initialPoints proposals are
// uniform random; later ones maximize the upper confidence bound μ + β·σ of a
// GP fitted to every completed trial.
type oracle struct {
	space         hyper.Space
	rng           *rand.Rand
	initialPoints int
	beta          float64
	candidates    int
	logger        *slog.Logger

	proposed int
	tried    map[string]bool
	xs       [][]float64
	ys       []float64
}

func newOracle(space hyper.Space, seed uint64, initialPoints int, beta float64, candidates int, logger *slog.Logger) *oracle {
	return &oracle{
		space:         space,
		rng:           rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5)),
		initialPoints: initialPoints,
		beta:          beta,
		candidates:    candidates,
		logger:        logger,
		tried:         make(map[string]bool),
	}
}

// next returns the configuration for the following trial and whether it
// came from the surrogate.
func (o *oracle) next() (hyper.Config, bool) {
	defer func() { o.proposed++ }()

	if o.proposed < o.initialPoints || len(o.ys) == 0 {
		return o.claim(o.random()), false
	}

	gp, err := fitGP(o.xs, o.ys)
	if err != nil {
		o.logger.Warn("surrogate fit failed, sampling at random", "error", err)
		return o.claim(o.random()), false
	}

	var best hyper.Config
	bestUCB := math.Inf(-1)
	found := false
	for range o.candidates {
		c := o.space.Sample(o.rng)
		if o.tried[c.Key()] {
			continue
		}
		mu, sigma := gp.predict(o.space.Encode(c))
		if ucb := mu + o.beta*sigma; ucb > bestUCB {
			best, bestUCB, found = c, ucb, true
		}
	}
	if !found {
		return o.claim(o.random()), false
	}
	return o.claim(best), true
}

// random draws configs until an untried one appears, accepting a duplicate
// once the attempts run out.
func (o *oracle) random() hyper.Config {
	c := o.space.Sample(o.rng)
	for range maxRandomAttempts {
		if !o.tried[c.Key()] {
			return c
		}
		c = o.space.Sample(o.rng)
	}
	return c
}

func (o *oracle) claim(c hyper.Config) hyper.Config {
	o.tried[c.Key()] = true
	return c
}

// observe feeds a completed trial's score to the surrogate. Failed trials
// are never observed.
func (o *oracle) observe(c hyper.Config, score float64) {
	o.xs = append(o.xs, o.space.Encode(c))
	o.ys = append(o.ys, score)
}
