package index

import (
	"time"

	"github.com/TIANLI0/CardKit/fingerprint"
)

// Stats 参考库概况，距离统计取前sample条记录两两比较，用于调整匹配阈值
type Stats struct {
	TotalCards  int       `json:"total_cards"`
	HashBits    int       `json:"hash_bits"`
	Sets        int       `json:"sets"`
	Source      string    `json:"source"`
	Checksum    string    `json:"checksum,omitempty"`
	LoadedAt    time.Time `json:"loaded_at"`
	SampleSize  int       `json:"sample_size"`
	MinDistance int       `json:"min_distance"`
	MaxDistance int       `json:"max_distance"`
	AvgDistance float64   `json:"avg_distance"`
}

func (x *Index) Stats(sample int) Stats {
	st := Stats{
		TotalCards: x.Len(),
		HashBits:   x.bits,
		Sets:       x.sets,
		Source:     x.source,
		Checksum:   x.checksum,
		LoadedAt:   x.loadedAt,
		SampleSize: min(max(sample, 0), x.Len()),
	}

	var sum, pairs int
	for i := 0; i < st.SampleSize; i++ {
		for j := i + 1; j < st.SampleSize; j++ {
			d, _ := fingerprint.Distance(x.records[i].Fingerprint, x.records[j].Fingerprint)
			if pairs == 0 || d < st.MinDistance {
				st.MinDistance = d
			}
			if d > st.MaxDistance {
				st.MaxDistance = d
			}
			sum += d
			pairs++
		}
	}
	if pairs > 0 {
		st.AvgDistance = float64(sum) / float64(pairs)
	}
	return st
}
