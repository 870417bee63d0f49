package util

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// FoldString 计算字符串的折叠值，用于哈希表分桶
func FoldString(s string) uint64 {
	return xxhash.ChecksumString64(s)
}

// FoldUint64 计算64位整数的折叠值
func FoldUint64(v uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return xxhash.Checksum64(buf[:])
}

// FindPrime 返回不小于n的素数，用作哈希表的槽位数
func FindPrime(n uint64) uint64 {
	if n < 2 {
		return 2
	}
	for candidate := n; ; candidate++ {
		if isPrime(candidate) {
			return candidate
		}
	}
}

func isPrime(n uint64) bool {
	if n < 4 {
		return n >= 2
	}
	if n%2 == 0 {
		return false
	}
	for i := uint64(3); i*i <= n; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}
