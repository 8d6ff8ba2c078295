package portalloc

import (
	"hash/fnv"
	"math/rand/v2"
)

const (
	StrategyIncrement     = "increment"
	StrategyRandomInRange = "random-in-range"

	defaultRandomSpan = 1000
)

func init() {
	MustRegister(StrategyIncrement, StrategyFunc(incrementCandidates))
	MustRegister(StrategyRandomInRange, StrategyFunc(randomInRangeCandidates))
}

// incrementCandidates 依次尝试 port+1, port+2, ...
func incrementCandidates(req Request, n int) []int {
	result := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		result = append(result, req.Port+i)
	}
	return result
}

// randomInRangeCandidates 在 [RangeMin, RangeMax] 内抽取互不相同的端口。
// 随机源由 Seed 与实例 ID 共同决定，保证规划可复现。
// 未配置范围时使用 [port+1, port+1000]。
func randomInRangeCandidates(req Request, n int) []int {
	lo, hi := req.Options.RangeMin, req.Options.RangeMax
	if lo <= 0 || hi <= 0 {
		lo = req.Port + 1
		hi = req.Port + defaultRandomSpan
	}
	if hi > 65535 {
		hi = 65535
	}
	if lo > hi || n <= 0 {
		return nil
	}

	span := hi - lo + 1
	if span <= n {
		result := make([]int, 0, span)
		for p := lo; p <= hi; p++ {
			result = append(result, p)
		}
		rng := newSeededRand(req)
		rng.Shuffle(len(result), func(i, j int) { result[i], result[j] = result[j], result[i] })
		return result
	}

	rng := newSeededRand(req)
	seen := make(map[int]struct{}, n)
	result := make([]int, 0, n)
	for draws := 0; len(result) < n && draws < n*8; draws++ {
		p := lo + rng.IntN(span)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}

func newSeededRand(req Request) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(req.InstanceID))
	return rand.New(rand.NewPCG(uint64(req.Options.Seed), h.Sum64()))
}
