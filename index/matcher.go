package index

import (
	"fmt"
	"math/bits"

	"github.com/TIANLI0/CardKit/fingerprint"
)

// Match 一次最近邻查询的结果
type Match struct {
	Record     Record
	Distance   int
	Confidence int
	Matched    bool
}

// Confidence 距离到置信度的映射：0距离为100，到达maxDistance时为0，之间严格递减
func Confidence(distance, maxDistance int) int {
	if maxDistance <= 0 || distance >= maxDistance {
		return 0
	}
	if distance <= 0 {
		return 100
	}
	return 100 * (maxDistance - distance) / maxDistance
}

// Nearest 穷举搜索最小汉明距离，距离相同取ID顺序中的第一条
func (x *Index) Nearest(fp fingerprint.Fingerprint) (int, int, error) {
	if fp.Len() != x.bits {
		return -1, 0, fmt.Errorf("%w: query has %d bits, index has %d", ErrLengthMismatch, fp.Len(), x.bits)
	}
	q := fp.Words()
	best, bestDist := -1, x.bits+1
	for i := 0; i < len(x.records); i++ {
		row := x.words[i*x.stride : (i+1)*x.stride]
		d := 0
		for k, w := range row {
			d += bits.OnesCount64(w ^ q[k])
		}
		if d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	return best, bestDist, nil
}

// Matcher 按扫描模式的阈值解析指纹
type Matcher struct {
	MaxDistance   int
	MinConfidence int
}

// Match 在快照中查找最近的记录。idx为nil时返回ErrUnavailable。
// 最近记录的置信度低于MinConfidence时Matched为false，但仍返回距离。
func (m Matcher) Match(idx *Index, fp fingerprint.Fingerprint) (Match, error) {
	if idx == nil {
		return Match{}, ErrUnavailable
	}
	i, d, err := idx.Nearest(fp)
	if err != nil {
		return Match{}, err
	}
	res := Match{Distance: d, Confidence: Confidence(d, m.MaxDistance)}
	if res.Confidence >= max(1, m.MinConfidence) {
		res.Matched = true
		res.Record = idx.records[i]
	}
	return res, nil
}
