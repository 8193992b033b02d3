package services

import (
	"math"
	"strconv"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

// RatingReliability is the internal consistency of a course's rating
// questions, measured over submissions that answered all of them.
type RatingReliability struct {
	Alpha       float64 `json:"alpha"`
	Items       int     `json:"items"`
	Submissions int     `json:"submissions"`
}

// CronbachAlpha computes Cronbach's alpha for a [respondent][item] matrix
// using population variance, clamped to [0, 1]. Fewer than two rows or items,
// ragged rows and zero total variance yield 0.
func CronbachAlpha(matrix [][]float64) float64 {
	n := len(matrix)
	if n < 2 {
		return 0
	}
	k := len(matrix[0])
	if k < 2 {
		return 0
	}
	totals := make([]float64, n)
	var sumItemVars float64
	for j := 0; j < k; j++ {
		col := make([]float64, n)
		for i, row := range matrix {
			if len(row) != k {
				return 0
			}
			col[i] = row[j]
			totals[i] += row[j]
		}
		sumItemVars += variance(col)
	}
	totalVar := variance(totals)
	if totalVar == 0 {
		return 0
	}
	kf := float64(k)
	alpha := (kf / (kf - 1)) * (1 - sumItemVars/totalVar)
	return math.Max(0, math.Min(1, alpha))
}

func variance(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// ratingReliability builds the answer matrix for ratingQs (in display order)
// and returns nil when fewer than two questions or complete submissions exist.
func ratingReliability(ratingQs []models.Question, rs []models.Response) *RatingReliability {
	if len(ratingQs) < 2 {
		return nil
	}
	col := make(map[string]int, len(ratingQs))
	for i, q := range ratingQs {
		col[q.ID] = i
	}
	rows := map[[2]string][]float64{}
	filled := map[[2]string]int{}
	var order [][2]string
	for _, r := range rs {
		j, ok := col[r.QuestionID]
		if !ok {
			continue
		}
		v, err := strconv.Atoi(r.Answer)
		if err != nil {
			continue
		}
		key := submissionKey(r)
		row, seen := rows[key]
		if !seen {
			row = make([]float64, len(ratingQs))
			for i := range row {
				row[i] = math.NaN()
			}
			rows[key] = row
			order = append(order, key)
		}
		if math.IsNaN(row[j]) {
			filled[key]++
		}
		row[j] = float64(v)
	}
	var matrix [][]float64
	for _, key := range order {
		if filled[key] == len(ratingQs) {
			matrix = append(matrix, rows[key])
		}
	}
	if len(matrix) < 2 {
		return nil
	}
	return &RatingReliability{
		Alpha:       math.Round(CronbachAlpha(matrix)*1000) / 1000,
		Items:       len(ratingQs),
		Submissions: len(matrix),
	}
}
