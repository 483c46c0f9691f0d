package engine

import "github.com/rkvlabs/rkv/internal/zset"

// value is the tagged variant stored per key: either an opaque byte
// string (scalar) or a reference to a sorted set.
type value struct {
	scalar []byte
	zset   *zset.ZSet
}

func scalarValue(b []byte) value {
	return value{scalar: b}
}

func zsetValue(z *zset.ZSet) value {
	return value{zset: z}
}

func (v value) isZSet() bool {
	return v.zset != nil
}
