// Package similarity builds the account×vehicle residual matrix and computes
// pairwise cosine similarity between vehicles.
package similarity

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/okian/blitzrec/internal/domain/aggregate"
	"github.com/okian/blitzrec/internal/domain/model"
)

// Column is one vehicle's sparse residuals, sorted by account.
type Column struct {
	Accounts  []model.AccountID
	Residuals []float64
	Norm      float64 // Euclidean norm over every residual in the column
}

// Len returns the number of non-empty cells.
func (c *Column) Len() int { return len(c.Accounts) }

// Matrix is the column-major residual matrix. It is immutable once built.
type Matrix struct {
	columns map[model.TankID]*Column
	ids     []model.TankID
}

type cell struct {
	account  model.AccountID
	residual float64
}

// BuildMatrix computes observed - baseline for every pair whose vehicle has
// a baseline. Non-finite residuals are skipped.
func BuildMatrix(baseline map[model.TankID]float64, observed map[aggregate.Key]float64) *Matrix {
	cells := make(map[model.TankID][]cell, len(baseline))
	for k, v := range observed {
		base, ok := baseline[k.TankID]
		if !ok {
			continue
		}
		r := v - base
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		cells[k.TankID] = append(cells[k.TankID], cell{account: k.AccountID, residual: r})
	}

	m := &Matrix{columns: make(map[model.TankID]*Column, len(cells))}
	for tank, cs := range cells {
		slices.SortFunc(cs, func(a, b cell) int { return cmp.Compare(a.account, b.account) })
		col := &Column{
			Accounts:  make([]model.AccountID, len(cs)),
			Residuals: make([]float64, len(cs)),
		}
		for i, c := range cs {
			col.Accounts[i] = c.account
			col.Residuals[i] = c.residual
		}
		col.Norm = floats.Norm(col.Residuals, 2)
		m.columns[tank] = col
		m.ids = append(m.ids, tank)
	}
	slices.Sort(m.ids)
	return m
}

// Vehicles returns the tank ids with at least one cell, ascending.
func (m *Matrix) Vehicles() []model.TankID { return slices.Clone(m.ids) }

// Column returns the column for tank, or nil.
func (m *Matrix) Column(tank model.TankID) *Column { return m.columns[tank] }

// Cells returns the total number of non-empty cells.
func (m *Matrix) Cells() int {
	n := 0
	for _, c := range m.columns {
		n += c.Len()
	}
	return n
}

// Cosine returns the cosine similarity of a and b. The dot product runs over
// accounts present in both columns; norms cover each full column. Empty or
// all-zero columns give NaN.
func Cosine(a, b *Column) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(a.Accounts) && j < len(b.Accounts) {
		switch {
		case a.Accounts[i] < b.Accounts[j]:
			i++
		case a.Accounts[i] > b.Accounts[j]:
			j++
		default:
			dot += a.Residuals[i] * b.Residuals[j]
			i++
			j++
		}
	}
	return dot / (a.Norm * b.Norm)
}
