package loadgen

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// population is a synthetic realm: every vehicle has a true win rate and
// every account a skill offset added to it.
type population struct {
	rng      *rand.Rand
	tankRate []float64
	skill    []float64
}

func newPopulation(cfg *Config) *population {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	p := &population{
		rng:      rng,
		tankRate: make([]float64, cfg.Tanks),
		skill:    make([]float64, cfg.Accounts),
	}
	for i := range p.tankRate {
		p.tankRate[i] = 0.42 + 0.16*rng.Float64()
	}
	for i := range p.skill {
		p.skill[i] = rng.NormFloat64() * 0.05
	}
	return p
}

func (p *population) account() uint32 { return uint32(p.rng.IntN(len(p.skill))) + 1 }
func (p *population) tank() uint32    { return uint32(p.rng.IntN(len(p.tankRate))) + 1 }

// battles plays n battles of account on tank and returns the wins.
func (p *population) battles(account, tank uint32, n uint32) uint32 {
	rate := min(max(p.tankRate[tank-1]+p.skill[account-1], 0.05), 0.95)
	var wins uint32
	for range n {
		if p.rng.Float64() < rate {
			wins++
		}
	}
	return wins
}

// observations builds n observations with unique event ids.
func (p *population) observations(n int) []Observation {
	out := make([]Observation, n)
	ts := time.Now().UTC().Format(time.RFC3339)
	for i := range out {
		account, tank := p.account(), p.tank()
		battles := uint32(p.rng.IntN(5)) + 1
		out[i] = Observation{
			EventID:   uuid.NewString(),
			Realm:     "ru",
			AccountID: account,
			TankID:    tank,
			NBattles:  battles,
			NWins:     p.battles(account, tank, battles),
			TS:        ts,
		}
	}
	return out
}

// recommendation builds a request with a few played and a few target tanks.
func (p *population) recommendation() RecommendRequest {
	account := p.account()
	given := make([]Known, 0, 4)
	seen := make(map[uint32]struct{}, 8)
	for range 1 + p.rng.IntN(4) {
		tank := p.tank()
		if _, dup := seen[tank]; dup {
			continue
		}
		seen[tank] = struct{}{}
		battles := uint32(p.rng.IntN(50)) + 1
		given = append(given, Known{TankID: tank, NBattles: battles, NWins: p.battles(account, tank, battles)})
	}
	predict := make([]uint32, 0, 4)
	for range 1 + p.rng.IntN(4) {
		predict = append(predict, p.tank())
	}
	return RecommendRequest{Given: given, Predict: predict}
}
