package domain

import (
	"net"
	"time"
)

// BanRange stores an inclusive IPv4 interval that is denied tracker service.
// Bounds are kept as unsigned 32-bit integers so containment checks and the
// in-memory index can compare them numerically.
type BanRange struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	FromIP uint32 `gorm:"not null;index:idx_ban_ranges_bounds,unique"`
	ToIP   uint32 `gorm:"not null;index:idx_ban_ranges_bounds,unique"`

	// Reason records why the range was banned (free-form, admin supplied).
	Reason string `gorm:"size:512;not null;default:'';index:idx_ban_ranges_bounds,unique"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// IPToUint32 converts an IPv4 address to its unsigned 32-bit form.
// Returns false for nil or non-IPv4 addresses.
func IPToUint32(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}

// Uint32ToIP converts the unsigned 32-bit form back to a net.IP.
func Uint32ToIP(u uint32) net.IP {
	return net.IPv4(byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}
