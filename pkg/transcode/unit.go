package transcode

import (
	"sync"
	"time"
)

// encodedUnit is the basic [Unit] implementation used by the shipped encoder
// stages.
type encodedUnit struct {
	data []byte
	pts  time.Duration

	releaseOnce sync.Once
}

// NewUnit wraps encoded bytes and their presentation timestamp as a [Unit].
// The unit takes ownership of data; callers must not reuse the slice.
func NewUnit(data []byte, pts time.Duration) Unit {
	return &encodedUnit{data: data, pts: pts}
}

func (u *encodedUnit) Bytes() []byte { return u.data }

func (u *encodedUnit) Timestamp() time.Duration { return u.pts }

func (u *encodedUnit) Release() {
	u.releaseOnce.Do(func() { u.data = nil })
}
