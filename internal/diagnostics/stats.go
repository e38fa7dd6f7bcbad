package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/dataset-audit/internal/table"
)

const quantileBuckets = 10

// pairedFloats returns x and y values for rows where both are present.
func pairedFloats(x, y *table.Column) ([]float64, []float64) {
	var xs, ys []float64
	for i := range x.Nums {
		if x.Missing[i] || y.Missing[i] {
			continue
		}
		xs = append(xs, x.Nums[i])
		ys = append(ys, y.Nums[i])
	}
	return xs, ys
}

// skewness is the third central moment over the cube of the sample standard
// deviation.
func skewness(y []float64) float64 {
	mean, std := stat.MeanStdDev(y, nil)
	var m3 float64
	for _, v := range y {
		d := v - mean
		m3 += d * d * d
	}
	m3 /= float64(len(y))
	return m3 / (std * std * std)
}

// quantile uses linear interpolation between closest ranks over a sorted
// sample, h = (n-1)p.
func quantile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// bucketEdges returns deduplicated decile edges of vals.
func bucketEdges(vals []float64) []float64 {
	if len(vals) == 0 {
		return nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	edges := make([]float64, 0, quantileBuckets+1)
	for k := 0; k <= quantileBuckets; k++ {
		e := quantile(sorted, float64(k)/quantileBuckets)
		if len(edges) > 0 && e == edges[len(edges)-1] {
			continue
		}
		edges = append(edges, e)
	}
	return edges
}

// bucketOf places v in (edges[i], edges[i+1]]; the lowest edge belongs to the
// first bucket.
func bucketOf(edges []float64, v float64) int {
	idx := sort.SearchFloat64s(edges, v)
	if idx == 0 {
		return 0
	}
	return min(idx-1, len(edges)-2)
}

// mutualInformation is the plug-in estimate in nats between two label
// sequences of equal length.
func mutualInformation[A, B comparable](a []A, b []B) float64 {
	type pair struct {
		a A
		b B
	}
	n := float64(len(a))
	if n == 0 {
		return 0
	}
	joint := make(map[pair]float64)
	ca := make(map[A]float64)
	cb := make(map[B]float64)
	for i := range a {
		joint[pair{a[i], b[i]}]++
		ca[a[i]]++
		cb[b[i]]++
	}
	var mi float64
	for p, c := range joint {
		mi += c / n * math.Log(c*n/(ca[p.a]*cb[p.b]))
	}
	return math.Max(mi, 0)
}

// exactKSMaxN is the largest sample size whose KS p-value is computed exactly.
const exactKSMaxN = 10000

// ksTwoSample returns the two-sample Kolmogorov-Smirnov statistic and its
// two-sided p-value. The p-value is exact up to exactKSMaxN observations per
// sample and asymptotic beyond that.
func ksTwoSample(x, y []float64) (float64, float64) {
	xs := append([]float64(nil), x...)
	ys := append([]float64(nil), y...)
	sort.Float64s(xs)
	sort.Float64s(ys)

	d := stat.KolmogorovSmirnov(xs, nil, ys, nil)
	m, n := len(xs), len(ys)
	if max(m, n) <= exactKSMaxN {
		if p, ok := ksExactPValue(m, n, d); ok {
			return d, p
		}
	}
	n1, n2 := float64(m), float64(n)
	en := math.Sqrt(n1 * n2 / (n1 + n2))
	return d, kolmogorovSurvival((en + 0.12 + 0.11/en) * d)
}

// ksExactPValue returns P(D >= d) under the null hypothesis by counting
// monotone lattice paths from (0,0) to (m,n). d is snapped to the lattice
// m*n/gcd(m,n).
func ksExactPValue(m, n int, d float64) (float64, bool) {
	if m == 0 || n == 0 {
		return 0, false
	}
	g := gcd(m, n)
	h := int(math.Round(d * float64((m/g)*n)))
	if h == 0 {
		return 1, true
	}
	var p float64
	if m == n {
		p = ksOutsideSquare(n, h)
	} else {
		p = ksOutsideLattice(m, n, g, h)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, false
	}
	return p, true
}

// ksOutsideSquare is the closed form for equal samples:
// 2 Σ_k (-1)^(k-1) C(2n, n-kh) / C(2n, n), nested to stay in [0, 1].
func ksOutsideSquare(n, h int) float64 {
	var p float64
	for k := n / h; k >= 0; k-- {
		term := 1.0
		for j := range h {
			term = float64(n-k*h-j) * term / float64(n+k*h+j+1)
		}
		p = term * (1 - p)
	}
	return 2 * p
}

// ksOutsideLattice returns the share of paths that touch |i/m - j/n| >= d.
// u[j] holds the share of paths to (i, j) that stayed inside, normalized by
// C(i+j, j), so values never overflow.
func ksOutsideLattice(m, n, g, h int) float64 {
	mg, ng := m/g, n/g
	u := make([]float64, n+1)
	for i := 0; i <= m; i++ {
		for j := 0; j <= n; j++ {
			if absInt(i*ng-j*mg) >= h {
				u[j] = 0
				continue
			}
			if i == 0 && j == 0 {
				u[j] = 1
				continue
			}
			var v float64
			if i > 0 {
				v += float64(i) * u[j]
			}
			if j > 0 {
				v += float64(j) * u[j-1]
			}
			u[j] = v / float64(i+j)
		}
	}
	return math.Min(math.Max(1-u[n], 0), 1)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// kolmogorovSurvival evaluates Q(λ) = 2 Σ (-1)^(j-1) exp(-2 j² λ²).
func kolmogorovSurvival(lambda float64) float64 {
	a2 := -2 * lambda * lambda
	fac, sum, prev := 2.0, 0.0, 0.0
	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= 0.001*prev || math.Abs(term) <= 1e-8*sum {
			return math.Min(math.Max(sum, 0), 1)
		}
		fac = -fac
		prev = math.Abs(term)
	}
	return 1
}

// chiSquareIndependence tests a contingency table of observed counts. Yates'
// continuity correction applies when there is one degree of freedom. ok is
// false when an expected count is zero.
func chiSquareIndependence(observed [][]float64) (chi2, p float64, dof int, ok bool) {
	rows := len(observed)
	if rows == 0 {
		return 0, 0, 0, false
	}
	cols := len(observed[0])
	rowSum := make([]float64, rows)
	colSum := make([]float64, cols)
	var total float64
	for i, row := range observed {
		for j, v := range row {
			rowSum[i] += v
			colSum[j] += v
			total += v
		}
	}
	if total == 0 {
		return 0, 0, 0, false
	}

	dof = (rows - 1) * (cols - 1)
	if dof == 0 {
		return 0, 1, 0, true
	}

	for i, row := range observed {
		for j, o := range row {
			e := rowSum[i] * colSum[j] / total
			if e == 0 {
				return 0, 0, dof, false
			}
			if dof == 1 {
				diff := e - o
				o += math.Copysign(math.Min(0.5, math.Abs(diff)), diff)
			}
			chi2 += (o - e) * (o - e) / e
		}
	}
	p = distuv.ChiSquared{K: float64(dof)}.Survival(chi2)
	return chi2, p, dof, true
}
