package speedtest

import (
	"fmt"
	"strconv"
	"strings"
)

type UnitType int

// IEC and SI
const (
	UnitTypeDecimalBits  = UnitType(iota) // auto scaled
	UnitTypeDecimalBytes                  // auto scaled
	UnitTypeBinaryBits                    // auto scaled
	UnitTypeBinaryBytes                   // auto scaled
	UnitTypeDefaultMbps                   // fixed
)

// scale describes one auto-scaled family: its base, whether values are
// shown in bits, and the unit names from the smallest step up.
type scale struct {
	base  float64
	bits  bool
	names []string
}

var scales = map[UnitType]scale{
	UnitTypeDecimalBits:  {base: KB, bits: true, names: []string{"bps", "Kbps", "Mbps", "Gbps"}},
	UnitTypeDecimalBytes: {base: KB, names: []string{"B/s", "KB/s", "MB/s", "GB/s"}},
	UnitTypeBinaryBits:   {base: KiB, bits: true, names: []string{"Kibps", "Mibps", "Gibps"}},
	UnitTypeBinaryBytes:  {base: KiB, names: []string{"KiB/s", "MiB/s", "GiB/s"}},
}

var unitNames = map[string]UnitType{
	"mbps":          UnitTypeDefaultMbps,
	"decimal-bits":  UnitTypeDecimalBits,
	"decimal-bytes": UnitTypeDecimalBytes,
	"binary-bits":   UnitTypeBinaryBits,
	"binary-bytes":  UnitTypeBinaryBytes,
}

const (
	B  = 1.0
	KB = 1000 * B
	MB = 1000 * KB
	GB = 1000 * MB

	IB  = 1
	KiB = 1024 * IB
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// ByteRate is a transfer rate in bytes per second.
type ByteRate float64

// ParseUnit maps a unit name ("mbps", "decimal-bits", "decimal-bytes",
// "binary-bits", "binary-bytes") to its UnitType.
func ParseUnit(name string) (UnitType, error) {
	if name == "" {
		return UnitTypeDefaultMbps, nil
	}
	u, ok := unitNames[strings.ToLower(name)]
	if !ok {
		return UnitTypeDefaultMbps, fmt.Errorf("unknown unit %q", name)
	}
	return u, nil
}

// String formats the rate as fixed Mbps.
func (r ByteRate) String() string {
	return r.Byte(UnitTypeDefaultMbps)
}

func (r ByteRate) Mbps() float64 {
	return float64(r) * 8 / 1000000.0
}

func (r ByteRate) Gbps() float64 {
	return float64(r) * 8 / 1000000000.0
}

// Byte formats the rate in the given unit family, picking the largest step
// the rate reaches. Binary families start at the Ki step.
func (r ByteRate) Byte(formatType UnitType) string {
	sc, ok := scales[formatType]
	if !ok {
		return strconv.FormatFloat(r.Mbps(), 'f', 2, 64) + " Mbps"
	}
	if r == 0 {
		return "0.00 " + sc.names[0]
	}

	// the step is chosen on bytes, the value is shown in bits or bytes
	step, div := 0, 1.0
	if sc.base == KiB {
		div = KiB
	}
	for step < len(sc.names)-1 && float64(r) >= div*sc.base {
		step++
		div *= sc.base
	}
	val := float64(r)
	if sc.bits {
		val *= 8
	}
	return strconv.FormatFloat(val/div, 'f', 2, 64) + " " + sc.names[step]
}
