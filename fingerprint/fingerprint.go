// Package fingerprint 定长感知哈希位向量及其DCT计算。
//
// 位按行优先的系数顺序编号，十六进制形式以最高位在前，
// 与离线建库脚本写出的哈希字符串一致。
package fingerprint

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

var (
	// ErrLengthMismatch 两个指纹位数不同，属于配置错误，不做截断
	ErrLengthMismatch = errors.New("fingerprint length mismatch")
	ErrEmptyImage     = errors.New("empty image")
)

// Fingerprint 定长位向量，零值表示空指纹
type Fingerprint struct {
	n     int
	words []uint64
}

func New(n int) Fingerprint {
	return Fingerprint{n: n, words: make([]uint64, (n+63)/64)}
}

func (f Fingerprint) Len() int { return f.n }

func (f Fingerprint) Words() []uint64 { return f.words }

func (f Fingerprint) Bit(i int) bool {
	return f.words[i/64]&(1<<(63-uint(i%64))) != 0
}

func (f Fingerprint) set(i int) {
	f.words[i/64] |= 1 << (63 - uint(i%64))
}

// Distance 汉明距离
func Distance(a, b Fingerprint) (int, error) {
	if a.n != b.n {
		return 0, fmt.Errorf("%w: %d vs %d bits", ErrLengthMismatch, a.n, b.n)
	}
	d := 0
	for i, w := range a.words {
		d += bits.OnesCount64(w ^ b.words[i])
	}
	return d, nil
}

func (f Fingerprint) Equal(g Fingerprint) bool {
	if f.n != g.n {
		return false
	}
	for i, w := range f.words {
		if w != g.words[i] {
			return false
		}
	}
	return true
}

const hexDigits = "0123456789abcdef"

func (f Fingerprint) String() string {
	if f.n == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow((f.n + 3) / 4)
	// 位数不是4的倍数时在高位补零
	pad := (4 - f.n%4) % 4
	nibble := 0
	for i := -pad; i < f.n; i++ {
		nibble <<= 1
		if i >= 0 && f.Bit(i) {
			nibble |= 1
		}
		if (i+pad)%4 == 3 {
			sb.WriteByte(hexDigits[nibble])
			nibble = 0
		}
	}
	return sb.String()
}

// ParseHex 解析十六进制指纹，位数为字符数的4倍
func ParseHex(s string) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Fingerprint{}, errors.New("empty fingerprint")
	}
	f := New(len(s) * 4)
	for i := 0; i < len(s); i++ {
		v := strings.IndexByte(hexDigits, s[i])
		if v < 0 {
			return Fingerprint{}, fmt.Errorf("invalid hex digit %q at %d", s[i], i)
		}
		for b := 0; b < 4; b++ {
			if v&(8>>b) != 0 {
				f.set(i*4 + b)
			}
		}
	}
	return f, nil
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
